// Package client provides a transport-agnostic interface for the extgate
// admin API and an HTTP/JSON implementation of it.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/policy"
)

// AdminClient is the interface the extgate CLI commands use to talk to a
// running gateway.
type AdminClient interface {
	// Review queue
	ListQueue(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error)
	GetItem(ctx context.Context, id string) (*model.QueueItem, error)
	Approve(ctx context.Context, id string) (*model.QueueItem, error)
	Reject(ctx context.Context, id string) (*model.QueueItem, error)
	DeleteItem(ctx context.Context, id string) error

	// Policy
	GetPolicy(ctx context.Context) (*policy.Document, error)
	SetPolicy(ctx context.Context, doc policy.Document) (*policy.Document, error)

	// Gated upstream call through the passthrough endpoint.
	Call(ctx context.Context, service string, req *CallRequest) (*CallResponse, error)

	// Events
	StreamEvents(ctx context.Context, topics []string, fn func(Event) error) error

	// Health
	Health(ctx context.Context) (string, error)

	Close() error
}

// CallRequest is the body of POST /{service}/passthrough.
type CallRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Body   json.RawMessage   `json:"body,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// CallResponse is whatever the gateway answered: a relayed upstream
// response or one of its synthetic dry-run / queued bodies.
type CallResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Event is one audit event received from the gateway's event stream.
type Event struct {
	ID    string
	Topic string
	Data  json.RawMessage
}
