package chat

import (
	"errors"
	"sync"
)

// ErrAlreadyOnline is returned when an identity already has a live session.
var ErrAlreadyOnline = errors.New("user already online")

// UserRegistry tracks the identities that are currently logged in. Membership
// is the single source of truth for whether a user is connected.
type UserRegistry struct {
	mu    sync.Mutex
	users map[string]Identity
}

// NewUserRegistry returns an empty registry.
func NewUserRegistry() *UserRegistry {
	return &UserRegistry{users: make(map[string]Identity)}
}

// Add inserts id unless its UserID is already online.
func (r *UserRegistry) Add(id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id.UserID]; ok {
		return ErrAlreadyOnline
	}
	r.users[id.UserID] = id
	return nil
}

// Remove drops userID. Removing an absent user is a no-op.
func (r *UserRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// Exists reports whether userID is online.
func (r *UserRegistry) Exists(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	return ok
}

// Len returns the number of online users.
func (r *UserRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
