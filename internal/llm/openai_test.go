package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/botchat/internal/llm"
)

type recordedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newCompletionServer(t *testing.T, status int, body string, seen *recordedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGenerate(t *testing.T) {
	var seen recordedRequest
	srv := newCompletionServer(t, http.StatusOK, `{
		"id": "cmpl-1",
		"model": "qwen-flash",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "@Alice\nHi there"}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
	}`, &seen)

	client := llm.NewOpenAI("test-key", srv.URL+"/v1", "", srv.Client())
	resp, err := client.Generate(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be nice"},
		{Role: llm.RoleUser, Content: "[Alice] (ID: u1): hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "@Alice\nHi there", resp.Content)
	assert.Equal(t, 14, resp.TotalTokens)
	assert.Equal(t, llm.DefaultModel, seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "[Alice] (ID: u1): hello", seen.Messages[1].Content)
}

func TestOpenAIGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{"message":"boom","type":"server_error"}}`},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `unauthorized`},
		{name: "malformed body", status: http.StatusOK, body: `not json`},
		{name: "no choices", status: http.StatusOK, body: `{"id":"cmpl-2","choices":[]}`, wantErr: llm.ErrEmptyCompletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCompletionServer(t, tt.status, tt.body, nil)
			client := llm.NewOpenAI("test-key", srv.URL+"/v1", "qwen-flash", srv.Client())

			_, err := client.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOpenAIGenerateNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := llm.NewOpenAI("test-key", url+"/v1", "qwen-flash", nil)
	_, err := client.Generate(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}
