package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatcatdev/tether/pkg/api"
)

func writeNDJSON(t *testing.T, w http.ResponseWriter, values ...any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, v := range values {
		require.NoError(t, enc.Encode(v))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "http://127.0.0.1:11434"},
		{"0.0.0.0", "http://127.0.0.1:11434"},
		{":8080", "http://127.0.0.1:8080"},
		{"localhost:9000", "http://localhost:9000"},
		{"http://example.com", "http://example.com:11434"},
		{"https://example.com/", "https://example.com:443"},
		{"http://10.0.0.2:11434", "http://10.0.0.2:11434"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHost(tt.in))
		})
	}
}

func TestListPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(api.ListResponse{Models: []api.ModelInfo{
			{Name: "mistral:latest"},
			{Name: "llama3.1:8b"},
		}})
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL).List(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "mistral:latest", models[0].Name)
	assert.Equal(t, "llama3.1:8b", models[1].Name)
}

func TestListRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).List(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err), "expected unreachable, got %v", err)

	var ce *ConnError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Refused, ce.Kind)
}

func TestListReadInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).List(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err), "expected unreachable, got %v", err)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "model \"nope\" not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), &api.ChatRequest{Model: "nope"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Message, "not found")
	assert.False(t, IsUnreachable(err))
}

func TestChatSendsStreamFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Stream)
		assert.False(t, *req.Stream)
		json.NewEncoder(w).Encode(api.ChatResponse{
			Message: api.Message{Role: api.RoleAssistant, Content: "hello"},
			Done:    true,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Chat(context.Background(), &api.ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []api.Message{{Role: api.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
}

func TestChatStreamIsPullDriven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chunks []any
		for _, s := range []string{"The", " CEO", " is"} {
			chunks = append(chunks, api.ChatResponse{Message: api.Message{Role: api.RoleAssistant, Content: s}})
		}
		chunks = append(chunks, api.ChatResponse{Done: true, DoneReason: "stop"})
		writeNDJSON(t, w, chunks...)
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).ChatStream(context.Background(), &api.ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	var got string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got += ev.Message.Content
	}
	assert.Equal(t, "The CEO is", got)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err, "exhausted stream must keep returning EOF")
}

func TestStreamInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(t, w,
			api.ProgressResponse{Status: "pulling manifest"},
			api.ErrorResponse{Error: "pull model manifest: file does not exist"},
		)
	}))
	defer srv.Close()

	var statuses []string
	err := NewClient(srv.URL).Pull(context.Background(), "nope", func(p api.ProgressResponse) error {
		statuses = append(statuses, p.Status)
		return nil
	})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "file does not exist")
	assert.Equal(t, []string{"pulling manifest"}, statuses)
}

func TestPullStopsOnCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(t, w,
			api.ProgressResponse{Status: "pulling manifest"},
			api.ProgressResponse{Status: "success"},
		)
	}))
	defer srv.Close()

	stop := fmt.Errorf("enough")
	calls := 0
	err := NewClient(srv.URL).Pull(context.Background(), "m", func(api.ProgressResponse) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		writeNDJSON(t, w,
			api.GenerateResponse{Response: "a"},
			api.GenerateResponse{Response: "b"},
			api.GenerateResponse{Done: true},
		)
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).GenerateStream(context.Background(), &api.GenerateRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	defer stream.Close()

	var got string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got += ev.Response
	}
	assert.Equal(t, "ab", got)
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.VersionResponse{Version: "0.3.12"})
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.3.12", v)
}
