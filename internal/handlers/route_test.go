package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/request"
	"github.com/convoflow/convoflow/internal/router"
)

type fakeConfigStore struct {
	cfg projectcfg.ProjectConfig
	err error
}

func (s *fakeConfigStore) Get(context.Context, string, string) (projectcfg.ProjectConfig, error) {
	return s.cfg, s.err
}

type fakeEnqueuer struct {
	err error
}

func (q *fakeEnqueuer) Enqueue(context.Context, []byte) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	return "msg-1", nil
}

func activeConfig() projectcfg.ProjectConfig {
	return projectcfg.ProjectConfig{
		Status:          projectcfg.StatusActive,
		AllowedChannels: []string{"whatsapp"},
		Channels: map[string]projectcfg.ChannelConfig{
			"whatsapp": {CredentialRef: "acme/whatsapp"},
		},
	}
}

const validBody = `{
	"company_data": {"company_id": "acme", "project_id": "onboarding"},
	"recipient_data": {"recipient_tel": "+15550001111", "comms_consent": true},
	"request_data": {
		"request_id": "7a0d3bc2-9a43-4a83-8f4e-2f3fbc5a2e6d",
		"channel_method": "whatsapp",
		"initial_request_timestamp": "2026-02-01T10:30:00Z"
	}
}`

func newRouteEcho(store router.ConfigStore, q router.Enqueuer) *echo.Echo {
	r := router.New(slog.Default(), store, map[request.Channel]router.Enqueuer{
		request.ChannelWhatsApp: q,
	})
	e := echo.New()
	NewRouteHandler(slog.Default(), r).Register(e)
	return e
}

func postRoute(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/route", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRouteAccepted(t *testing.T) {
	e := newRouteEcho(&fakeConfigStore{cfg: activeConfig()}, &fakeEnqueuer{})

	rec := postRoute(e, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var ack router.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.MessageID != "msg-1" {
		t.Fatalf("message id = %q", ack.MessageID)
	}
	if ack.ConversationID == "" {
		t.Fatal("ack must carry the conversation id")
	}
}

func TestRouteErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		store    *fakeConfigStore
		enqueuer *fakeEnqueuer
		body     string
		want     int
	}{
		{
			name:     "invalid body json",
			store:    &fakeConfigStore{cfg: activeConfig()},
			enqueuer: &fakeEnqueuer{},
			body:     "{not json",
			want:     http.StatusBadRequest,
		},
		{
			name:     "validation failure",
			store:    &fakeConfigStore{cfg: activeConfig()},
			enqueuer: &fakeEnqueuer{},
			body:     `{"company_data":{},"recipient_data":{},"request_data":{}}`,
			want:     http.StatusBadRequest,
		},
		{
			name:     "unknown project",
			store:    &fakeConfigStore{err: projectcfg.ErrNotFound},
			enqueuer: &fakeEnqueuer{},
			body:     validBody,
			want:     http.StatusNotFound,
		},
		{
			name: "suspended project",
			store: &fakeConfigStore{cfg: func() projectcfg.ProjectConfig {
				c := activeConfig()
				c.Status = projectcfg.StatusSuspended
				return c
			}()},
			enqueuer: &fakeEnqueuer{},
			body:     validBody,
			want:     http.StatusForbidden,
		},
		{
			name: "channel not allowed",
			store: &fakeConfigStore{cfg: func() projectcfg.ProjectConfig {
				c := activeConfig()
				c.AllowedChannels = []string{"email"}
				return c
			}()},
			enqueuer: &fakeEnqueuer{},
			body:     validBody,
			want:     http.StatusForbidden,
		},
		{
			name:     "dispatch failure",
			store:    &fakeConfigStore{cfg: activeConfig()},
			enqueuer: &fakeEnqueuer{err: errors.New("redis down")},
			body:     validBody,
			want:     http.StatusServiceUnavailable,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newRouteEcho(c.store, c.enqueuer)
			rec := postRoute(e, c.body)
			if rec.Code != c.want {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, c.want, rec.Body.String())
			}
		})
	}
}

func TestPing(t *testing.T) {
	e := echo.New()
	NewPingHandler(slog.Default()).Register(e)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service"] != "convoflow" || body["router_version"] == "" {
		t.Fatalf("unexpected ping body %v", body)
	}

	head := httptest.NewRequest(http.MethodHead, "/ping", nil)
	headRec := httptest.NewRecorder()
	e.ServeHTTP(headRec, head)
	if headRec.Code != http.StatusOK {
		t.Fatalf("head status = %d", headRec.Code)
	}
}
