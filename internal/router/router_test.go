package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/convoflow/convoflow/internal/contextobj"
	"github.com/convoflow/convoflow/internal/projectcfg"
	"github.com/convoflow/convoflow/internal/request"
)

type fakeConfigStore struct {
	cfg projectcfg.ProjectConfig
	err error
}

func (s *fakeConfigStore) Get(context.Context, string, string) (projectcfg.ProjectConfig, error) {
	return s.cfg, s.err
}

type fakeEnqueuer struct {
	bodies [][]byte
	errs   []error
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, body []byte) (string, error) {
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		if err != nil {
			return "", err
		}
	}
	q.bodies = append(q.bodies, body)
	return "msg-1", nil
}

func boolPtr(b bool) *bool { return &b }

func validRequest() request.Request {
	return request.Request{
		CompanyData: request.CompanyData{CompanyID: "acme", ProjectID: "onboarding"},
		RecipientData: request.RecipientData{
			Telephone:    "+15550001111",
			CommsConsent: boolPtr(true),
		},
		RequestData: request.RequestData{
			RequestID:        "7a0d3bc2-9a43-4a83-8f4e-2f3fbc5a2e6d",
			ChannelMethod:    "whatsapp",
			InitialTimestamp: "2026-02-01T10:30:00Z",
		},
	}
}

func activeConfig() projectcfg.ProjectConfig {
	return projectcfg.ProjectConfig{
		CompanyID:       "acme",
		ProjectID:       "onboarding",
		ProjectName:     "Acme Onboarding",
		Status:          projectcfg.StatusActive,
		AllowedChannels: []string{"whatsapp"},
		Channels: map[string]projectcfg.ChannelConfig{
			"whatsapp": {CredentialRef: "acme/whatsapp", TemplateName: "order_update"},
		},
	}
}

func newTestRouter(t *testing.T, store ConfigStore, q Enqueuer) *Router {
	t.Helper()
	r := New(nil, store, map[request.Channel]Enqueuer{request.ChannelWhatsApp: q})
	r.sleep = func(time.Duration) {}
	return r
}

func TestRouteEnqueuesContextObject(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(t, &fakeConfigStore{cfg: activeConfig()}, q)

	ack, err := r.Route(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if ack.MessageID != "msg-1" {
		t.Fatalf("ack message id = %q", ack.MessageID)
	}
	if ack.ConversationID != "acme#onboarding#7a0d3bc2-9a43-4a83-8f4e-2f3fbc5a2e6d#15550001111" {
		t.Fatalf("ack conversation id = %q", ack.ConversationID)
	}

	if len(q.bodies) != 1 {
		t.Fatalf("enqueued %d bodies", len(q.bodies))
	}
	var obj contextobj.ContextObject
	if err := json.Unmarshal(q.bodies[0], &obj); err != nil {
		t.Fatalf("body is not a context object: %v", err)
	}
	if obj.ChannelConfig["whatsapp"].TemplateName != "order_update" {
		t.Fatalf("channel config not carried: %+v", obj.ChannelConfig)
	}
	if obj.Metadata.RouterVersion != contextobj.Version {
		t.Fatalf("router version = %q", obj.Metadata.RouterVersion)
	}
}

func TestRouteRejectsBeforeEnqueue(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(t, &fakeConfigStore{cfg: activeConfig()}, q)

	cases := []struct {
		name    string
		mutate  func(*request.Request)
		store   *fakeConfigStore
		wantErr error
	}{
		{
			name:    "invalid request",
			mutate:  func(r *request.Request) { r.CompanyData.CompanyID = "" },
			wantErr: request.ErrInvalid,
		},
		{
			name:    "unknown project",
			store:   &fakeConfigStore{err: projectcfg.ErrNotFound},
			wantErr: ErrConfigNotFound,
		},
		{
			name: "suspended project",
			store: &fakeConfigStore{cfg: func() projectcfg.ProjectConfig {
				c := activeConfig()
				c.Status = projectcfg.StatusSuspended
				return c
			}()},
			wantErr: ErrProjectInactive,
		},
		{
			name: "channel outside allow list",
			store: &fakeConfigStore{cfg: func() projectcfg.ProjectConfig {
				c := activeConfig()
				c.AllowedChannels = []string{"email"}
				return c
			}()},
			wantErr: ErrChannelNotAllowed,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rt := r
			if c.store != nil {
				rt = newTestRouter(t, c.store, q)
			}
			req := validRequest()
			if c.mutate != nil {
				c.mutate(&req)
			}
			_, err := rt.Route(context.Background(), req)
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("expected %v, got %v", c.wantErr, err)
			}
			if !IsTerminal(err) {
				t.Fatalf("%v must be terminal", err)
			}
		})
	}
	if len(q.bodies) != 0 {
		t.Fatalf("rejected requests must not enqueue, got %d", len(q.bodies))
	}
}

func TestRouteRetriesTransientEnqueueFailure(t *testing.T) {
	q := &fakeEnqueuer{errs: []error{errors.New("redis down"), errors.New("redis down")}}
	r := newTestRouter(t, &fakeConfigStore{cfg: activeConfig()}, q)

	ack, err := r.Route(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Route after transient failures: %v", err)
	}
	if ack.MessageID != "msg-1" {
		t.Fatalf("ack message id = %q", ack.MessageID)
	}
}

func TestRouteDispatchFailureAfterRetries(t *testing.T) {
	down := errors.New("redis down")
	q := &fakeEnqueuer{errs: []error{down, down, down}}
	r := newTestRouter(t, &fakeConfigStore{cfg: activeConfig()}, q)

	_, err := r.Route(context.Background(), validRequest())
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if IsTerminal(err) {
		t.Fatal("dispatch failures are retryable by the caller")
	}
}
