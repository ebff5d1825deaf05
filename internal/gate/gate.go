// Package gate decides, for each intercepted upstream request, whether it
// proceeds, is blocked as a dry-run DELETE, or is held in the review queue.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/policy"
	"github.com/alfredjeanlab/extgate/internal/queue"
)

// Kind classifies a gate outcome.
type Kind int

const (
	// Proceed lets the request through to the upstream service.
	Proceed Kind = iota
	// BlockedDryRun short-circuits a DELETE while dry-run deletes are on.
	BlockedDryRun
	// Enqueued holds the request in the review queue.
	Enqueued
)

func (k Kind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case BlockedDryRun:
		return "blocked_dry_run"
	case Enqueued:
		return "enqueued"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DryRunMessage is the message returned for a blocked DELETE.
const DryRunMessage = "DELETE blocked by dry_run_deletes flag"

// Request is an intercepted upstream call.
type Request struct {
	Service      string
	Method       string
	UpstreamPath string
	Body         json.RawMessage
	Params       map[string]string
	CallerIP     string
	// Endpoint names the route that produced the request, e.g. "create_issue".
	Endpoint string
}

// Outcome is the gate's verdict on a Request.
type Outcome struct {
	Kind    Kind
	Message string
	// ReviewID is set for Enqueued outcomes.
	ReviewID string
}

// Interceptor decides the fate of a request. Engine.Decide is one.
type Interceptor func(ctx context.Context, req Request) (Outcome, error)

// Engine applies the current policy to requests.
type Engine struct {
	policy    *policy.Store
	queue     *queue.Queue
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine returns an Engine. publisher, m and logger may be nil.
func NewEngine(p *policy.Store, q *queue.Queue, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policy: p, queue: q, publisher: publisher, metrics: m, logger: logger}
}

// Decide returns the outcome for req under the policy snapshot current at
// the time of the call.
//
// GET always proceeds. A DELETE under dry-run deletes is blocked without
// touching the queue, even when DELETE also requires approval. A method
// requiring approval is enqueued; an error means the item could not be
// persisted and the request must not be forwarded.
func (e *Engine) Decide(ctx context.Context, req Request) (Outcome, error) {
	method := strings.ToUpper(req.Method)
	if method == http.MethodGet {
		e.metrics.IncGateDecision(req.Service, Proceed.String())
		return Outcome{Kind: Proceed}, nil
	}

	flags := e.policy.Flags(req.Service, method)

	if flags.DryRunDelete {
		e.metrics.IncGateDecision(req.Service, BlockedDryRun.String())
		e.logger.Info("delete_blocked_dry_run",
			"service", req.Service,
			"method", method,
			"upstream_path", req.UpstreamPath,
			"caller_ip", req.CallerIP,
		)
		e.publish(ctx, events.TopicDeleteBlocked, events.Mutation{
			Service:      req.Service,
			Method:       method,
			UpstreamPath: req.UpstreamPath,
			CallerIP:     req.CallerIP,
			Endpoint:     req.Endpoint,
		})
		return Outcome{Kind: BlockedDryRun, Message: DryRunMessage}, nil
	}

	if flags.RequiresApproval {
		item, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Service:      req.Service,
			Method:       method,
			UpstreamPath: req.UpstreamPath,
			Body:         req.Body,
			Params:       req.Params,
			CallerIP:     req.CallerIP,
			Endpoint:     req.Endpoint,
		})
		if err != nil {
			e.metrics.IncGateDecision(req.Service, "error")
			return Outcome{}, err
		}
		e.metrics.IncGateDecision(req.Service, Enqueued.String())
		e.logger.Info("mutation_enqueued",
			"review_id", item.ID,
			"service", item.Service,
			"method", item.Method,
			"upstream_path", item.UpstreamPath,
			"caller_ip", req.CallerIP,
		)
		e.publish(ctx, events.TopicMutationEnqueued, queue.MutationEvent(item))
		return Outcome{
			Kind:     Enqueued,
			Message:  method + " requires approval",
			ReviewID: item.ID,
		}, nil
	}

	e.metrics.IncGateDecision(req.Service, Proceed.String())
	return Outcome{Kind: Proceed}, nil
}

// Interceptor returns Decide as an Interceptor.
func (e *Engine) Interceptor() Interceptor {
	return e.Decide
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}
