package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/extgate/internal/executor"
	"github.com/alfredjeanlab/extgate/internal/gate"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/server"
	"github.com/alfredjeanlab/extgate/internal/store/memory"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// newGateway starts a real gateway over the memory store with every
// service pointed at upstreamHandler.
func newGateway(t *testing.T, doc policy.Document, token string, upstreamHandler http.Handler) *HTTPClient {
	t.Helper()
	up := httptest.NewServer(upstreamHandler)
	t.Cleanup(up.Close)

	hub := server.NewEventHub()
	q := queue.New(memory.New(), queue.WithPublisher(hub))
	clients := upstream.Registry{}
	for _, svc := range model.Services {
		clients[svc] = upstream.NewHTTPClient(upstream.Config{Service: svc, BaseURL: up.URL, Timeout: 5 * time.Second}, nil)
	}
	ps := policy.NewStore(policy.New(doc))
	srv := server.New(server.Deps{
		Interceptor: gate.NewEngine(ps, q, hub, nil, nil).Interceptor(),
		Queue:       q,
		Executor:    executor.New(q, clients, hub, nil, nil),
		Policy:      ps,
		Clients:     clients,
		Hub:         hub,
	})
	gw := httptest.NewServer(srv.NewHTTPHandler(token))
	t.Cleanup(gw.Close)
	return NewHTTPClient(gw.URL, token)
}

func TestRoundTrip_QueueApproveReject(t *testing.T) {
	var upstreamCalls atomic.Int32
	c := newGateway(t, policy.Document{Approvals: map[string][]string{"jira": {"POST"}}}, "secret",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			upstreamCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"key":"A-1"}`))
		}))
	ctx := context.Background()

	if status, err := c.Health(ctx); err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}

	resp, err := c.Call(ctx, "jira", &CallRequest{Method: "POST", Path: "/rest/api/3/issue", Body: json.RawMessage(`{"fields":{}}`)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Call status = %d: %s", resp.StatusCode, resp.Body)
	}
	var queued struct {
		ReviewID string `json:"review_id"`
	}
	if err := json.Unmarshal(resp.Body, &queued); err != nil || queued.ReviewID == "" {
		t.Fatalf("queued body = %s", resp.Body)
	}

	items, err := c.ListQueue(ctx, model.QueueFilter{Status: model.StatusPending})
	if err != nil || len(items) != 1 || items[0].ID != queued.ReviewID {
		t.Fatalf("ListQueue = %v, %v", items, err)
	}

	item, err := c.Approve(ctx, queued.ReviewID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if item.Status != model.StatusApproved || item.ResponseStatus == nil || *item.ResponseStatus != http.StatusCreated {
		t.Errorf("approved item = %+v", item)
	}
	if n := upstreamCalls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}

	_, err = c.Reject(ctx, queued.ReviewID)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "not_pending" || apiErr.Status != "approved" {
		t.Fatalf("Reject after approve: %v", err)
	}

	if err := c.DeleteItem(ctx, queued.ReviewID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := c.GetItem(ctx, queued.ReviewID); !IsNotFound(err) {
		t.Fatalf("GetItem after delete: %v", err)
	}
}

func TestRoundTrip_PolicyAndAuth(t *testing.T) {
	c := newGateway(t, policy.Document{}, "secret", http.NotFoundHandler())
	ctx := context.Background()

	doc, err := c.SetPolicy(ctx, policy.Document{DryRunDeletes: true, Approvals: map[string][]string{"gdrive": {"patch"}}})
	if err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}
	if !doc.DryRunDeletes || doc.Approvals["gdrive"][0] != "PATCH" {
		t.Errorf("doc = %+v", doc)
	}

	if _, err := c.SetPolicy(ctx, policy.Document{Approvals: map[string][]string{"github": {"POST"}}}); err == nil {
		t.Error("expected unknown service to be rejected")
	}

	anon := NewHTTPClient(c.baseURL, "")
	_, err = anon.ListQueue(ctx, model.QueueFilter{})
	if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous ListQueue: %v", err)
	}
}
