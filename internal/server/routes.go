package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// The root serves the web client from staticDir; when that directory does not
// exist the root falls back to the health handler.
func SetupRoutes(h *Handler, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", h.WebSocket)
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/test", h.TestPage)

	if StaticDirExists(staticDir) {
		mux.Handle("/", spaHandler(staticDir))
	} else {
		mux.HandleFunc("/", h.Health)
	}
	return mux
}

// StaticDirExists reports whether dir is an existing directory.
func StaticDirExists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// spaHandler serves files from dir. Paths that do not name a file get
// dir/index.html so client-side routes resolve.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+strings.TrimPrefix(r.URL.Path, "/"))))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == "/" {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}
