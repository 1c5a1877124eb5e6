// Package assistant drives an assistants-style AI completion: create a
// thread, post the prompt, start an assistant run, poll it under a wall-clock
// deadline, and parse the final message as structured output.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRunTimeout means the run did not reach a final status before the
	// wall-clock deadline. Retryable.
	ErrRunTimeout = errors.New("assistant run timed out")
	// ErrRunFailed means the provider reported the run failed, was cancelled,
	// or expired. Retryable.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrMalformedOutput means the assistant's final message is not the
	// expected structured JSON. A misconfigured assistant will keep producing
	// the same output, so this is terminal.
	ErrMalformedOutput = errors.New("assistant output malformed")
)

// StructuredOutput is the JSON contract the assistant must produce.
type StructuredOutput struct {
	MessageBody       string            `json:"message_body"`
	TemplateVariables map[string]string `json:"template_variables,omitempty"`
}

// Completion is the result of one assistant run.
type Completion struct {
	ThreadID string
	RunID    string
	Output   StructuredOutput
}

// Client calls the assistants REST API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	runDeadline  time.Duration
	logger       *slog.Logger
}

// NewClient creates an assistant client. pollInterval and runDeadline bound
// the run-status polling loop; per-request HTTP timeouts stay short.
func NewClient(log *slog.Logger, baseURL string, pollInterval, runDeadline time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if runDeadline <= 0 {
		runDeadline = 9 * time.Minute
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		runDeadline:  runDeadline,
		logger:       log.With(slog.String("component", "assistant")),
	}
}

type thread struct {
	ID string `json:"id"`
}

type run struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Complete runs the full thread → message → run → poll → parse sequence.
func (c *Client) Complete(ctx context.Context, apiKey, assistantID, prompt string) (Completion, error) {
	if assistantID == "" {
		return Completion{}, fmt.Errorf("assistant id is required")
	}

	var th thread
	if err := c.do(ctx, apiKey, http.MethodPost, "/threads", map[string]any{}, &th); err != nil {
		return Completion{}, fmt.Errorf("create thread: %w", err)
	}

	msgBody := map[string]any{"role": "user", "content": prompt}
	if err := c.do(ctx, apiKey, http.MethodPost, "/threads/"+th.ID+"/messages", msgBody, nil); err != nil {
		return Completion{}, fmt.Errorf("post message: %w", err)
	}

	var r run
	runBody := map[string]any{"assistant_id": assistantID}
	if err := c.do(ctx, apiKey, http.MethodPost, "/threads/"+th.ID+"/runs", runBody, &r); err != nil {
		return Completion{}, fmt.Errorf("start run: %w", err)
	}

	if err := c.pollRun(ctx, apiKey, th.ID, &r); err != nil {
		return Completion{ThreadID: th.ID, RunID: r.ID}, err
	}

	output, err := c.fetchOutput(ctx, apiKey, th.ID)
	if err != nil {
		return Completion{ThreadID: th.ID, RunID: r.ID}, err
	}
	return Completion{ThreadID: th.ID, RunID: r.ID, Output: output}, nil
}

// pollRun polls run status at the configured interval until the run reaches a
// final status or the wall-clock deadline lapses.
func (c *Client) pollRun(ctx context.Context, apiKey, threadID string, r *run) error {
	deadline := time.NewTimer(c.runDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch r.Status {
		case "completed":
			return nil
		case "failed", "cancelled", "expired", "incomplete":
			msg := r.Status
			if r.LastError != nil {
				msg = fmt.Sprintf("%s: %s", r.Status, r.LastError.Message)
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, msg)
		case "requires_action":
			// Template-sender assistants have no tools configured; an action
			// request means the assistant is misconfigured.
			return fmt.Errorf("%w: run requires action", ErrMalformedOutput)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			c.logger.Warn("run polling deadline exceeded",
				slog.String("thread_id", threadID),
				slog.String("run_id", r.ID),
				slog.Duration("deadline", c.runDeadline),
			)
			return fmt.Errorf("%w after %s", ErrRunTimeout, c.runDeadline)
		case <-ticker.C:
		}

		if err := c.do(ctx, apiKey, http.MethodGet, "/threads/"+threadID+"/runs/"+r.ID, nil, r); err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
	}
}

// fetchOutput reads the newest assistant message and parses it as structured
// output. Anything that is not a JSON object with message_body is malformed.
func (c *Client) fetchOutput(ctx context.Context, apiKey, threadID string) (StructuredOutput, error) {
	var list messageList
	if err := c.do(ctx, apiKey, http.MethodGet, "/threads/"+threadID+"/messages?limit=1&order=desc", nil, &list); err != nil {
		return StructuredOutput{}, fmt.Errorf("fetch messages: %w", err)
	}
	if len(list.Data) == 0 || list.Data[0].Role != "assistant" {
		return StructuredOutput{}, fmt.Errorf("%w: no assistant message on thread", ErrMalformedOutput)
	}
	var text string
	for _, part := range list.Data[0].Content {
		if part.Type == "text" {
			text = part.Text.Value
			break
		}
	}
	if text == "" {
		return StructuredOutput{}, fmt.Errorf("%w: assistant message has no text content", ErrMalformedOutput)
	}

	var output StructuredOutput
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &output); err != nil {
		return StructuredOutput{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if output.MessageBody == "" {
		return StructuredOutput{}, fmt.Errorf("%w: missing message_body", ErrMalformedOutput)
	}
	return output, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(raw), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// stripCodeFence unwraps ```json fences some assistants insist on emitting.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
