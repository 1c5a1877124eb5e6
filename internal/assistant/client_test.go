package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// assistantAPI is a minimal assistants endpoint for tests. Run status
// progresses through the configured sequence, one step per status poll.
type assistantAPI struct {
	mu       sync.Mutex
	statuses []string
	polls    int
	message  string
	auth     string
}

func (a *assistantAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.auth = r.Header.Get("Authorization")
		a.mu.Unlock()
		writeJSON(w, map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "run_1", "status": a.next()})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "run_1", "status": a.next()})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]any{{
				"role": "assistant",
				"content": []map[string]any{{
					"type": "text",
					"text": map[string]string{"value": a.message},
				}},
			}},
		})
	})
	return mux
}

func (a *assistantAPI) next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.polls >= len(a.statuses) {
		return a.statuses[len(a.statuses)-1]
	}
	s := a.statuses[a.polls]
	a.polls++
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *assistantAPI, deadline time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewClient(nil, srv.URL, time.Millisecond, deadline)
}

func TestCompleteHappyPath(t *testing.T) {
	api := &assistantAPI{
		statuses: []string{"queued", "in_progress", "completed"},
		message:  `{"message_body":"Your order ships tomorrow.","template_variables":{"1":"A-1"}}`,
	}
	c := newTestClient(t, api, time.Second)

	got, err := c.Complete(context.Background(), "sk-test", "asst_1", "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.ThreadID != "thread_1" || got.RunID != "run_1" {
		t.Fatalf("ids = %q/%q", got.ThreadID, got.RunID)
	}
	if got.Output.MessageBody != "Your order ships tomorrow." {
		t.Fatalf("message body = %q", got.Output.MessageBody)
	}
	if got.Output.TemplateVariables["1"] != "A-1" {
		t.Fatalf("template variables = %v", got.Output.TemplateVariables)
	}
	if api.auth != "Bearer sk-test" {
		t.Fatalf("authorization = %q", api.auth)
	}
}

func TestCompleteStripsCodeFence(t *testing.T) {
	api := &assistantAPI{
		statuses: []string{"completed"},
		message:  "```json\n{\"message_body\":\"hello\"}\n```",
	}
	c := newTestClient(t, api, time.Second)

	got, err := c.Complete(context.Background(), "sk-test", "asst_1", "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Output.MessageBody != "hello" {
		t.Fatalf("message body = %q", got.Output.MessageBody)
	}
}

func TestCompleteRunTimeout(t *testing.T) {
	api := &assistantAPI{statuses: []string{"in_progress"}}
	c := newTestClient(t, api, 30*time.Millisecond)

	_, err := c.Complete(context.Background(), "sk-test", "asst_1", "prompt")
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}

func TestCompleteRunFailed(t *testing.T) {
	api := &assistantAPI{statuses: []string{"queued", "failed"}}
	c := newTestClient(t, api, time.Second)

	_, err := c.Complete(context.Background(), "sk-test", "asst_1", "prompt")
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
}

func TestCompleteMalformedOutput(t *testing.T) {
	cases := []struct {
		name    string
		message string
	}{
		{"not json", "I'd be happy to help with that!"},
		{"missing message_body", `{"template_variables":{"1":"A-1"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &assistantAPI{statuses: []string{"completed"}, message: tc.message}
			c := newTestClient(t, api, time.Second)

			_, err := c.Complete(context.Background(), "sk-test", "asst_1", "prompt")
			if !errors.Is(err, ErrMalformedOutput) {
				t.Fatalf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestCompleteRequiresAssistantID(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:0", time.Millisecond, time.Second)
	if _, err := c.Complete(context.Background(), "sk-test", "", "prompt"); err == nil {
		t.Fatal("expected error for empty assistant id")
	}
}

func TestCompleteSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(nil, srv.URL, time.Millisecond, time.Second)
	_, err := c.Complete(context.Background(), "bad-key", "asst_1", "prompt")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status 401 in error, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"```\n{\"a\":1}\n```":         `{"a":1}`,
		"  {\"a\":1}  ":               `{"a":1}`,
		"```json\n{\"a\":1}\n```\n\n": `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
