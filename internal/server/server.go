package server

import (
	"log/slog"

	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/executor"
	"github.com/alfredjeanlab/extgate/internal/gate"
	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// Server serves the gated service routes and the review administration API.
type Server struct {
	intercept gate.Interceptor
	queue     *queue.Queue
	executor  *executor.Executor
	policy    *policy.Store
	clients   upstream.Registry
	hub       *EventHub
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Deps are the collaborators a Server is built from. Hub, Publisher,
// Metrics and Logger may be nil. Publisher should include Hub so that
// events raised by the server reach SSE clients.
type Deps struct {
	Interceptor gate.Interceptor
	Queue       *queue.Queue
	Executor    *executor.Executor
	Policy      *policy.Store
	Clients     upstream.Registry
	Hub         *EventHub
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// New returns a Server wired to d.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := d.Hub
	if hub == nil {
		hub = NewEventHub()
	}
	publisher := d.Publisher
	if publisher == nil {
		publisher = hub
	}
	return &Server{
		intercept: d.Interceptor,
		queue:     d.Queue,
		executor:  d.Executor,
		policy:    d.Policy,
		clients:   d.Clients,
		hub:       hub,
		publisher: publisher,
		metrics:   d.Metrics,
		logger:    logger,
	}
}
