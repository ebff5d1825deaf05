// Package queue is the review queue: mutations held for a human decision.
// It owns item creation and the operator-facing reads and transitions that
// do not touch the upstream service (list, get, reject, delete). Approval,
// which does, lives in package executor.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/idgen"
	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/store"
)

// DefaultClaimLease is how long an approval claim blocks other transitions
// before it is considered abandoned.
const DefaultClaimLease = 2 * time.Minute

// ErrInvalidFilter is returned by List for an unknown status value.
var ErrInvalidFilter = errors.New("invalid queue filter")

// EnqueueRequest is a gated mutation to be held for review.
type EnqueueRequest struct {
	Service      string
	Method       string
	UpstreamPath string
	Body         json.RawMessage
	Params       map[string]string
	CallerIP     string
	Endpoint     string
}

// Queue provides review queue operations over a store.Store.
type Queue struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	lease     time.Duration
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithPublisher sets the audit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClaimLease sets the claim lease used when rejecting.
func WithClaimLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns a Queue over s.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:     s,
		publisher: &events.NoopPublisher{},
		logger:    slog.Default(),
		lease:     DefaultClaimLease,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Store returns the underlying store.
func (q *Queue) Store() store.Store { return q.store }

// ClaimLease returns the configured claim lease.
func (q *Queue) ClaimLease() time.Duration { return q.lease }

// Now returns the current time from the queue's clock in UTC.
func (q *Queue) Now() time.Time { return q.now().UTC() }

// Enqueue persists a new pending item and returns it. The method is stored
// upper-cased; an empty caller IP is stored as null.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueItem, error) {
	id, err := idgen.Generate()
	if err != nil {
		return nil, err
	}
	item := &model.QueueItem{
		ID:           id,
		CreatedAt:    q.Now(),
		Status:       model.StatusPending,
		Service:      req.Service,
		Method:       strings.ToUpper(req.Method),
		UpstreamPath: req.UpstreamPath,
		Body:         req.Body,
		Params:       req.Params,
		Endpoint:     req.Endpoint,
	}
	if req.CallerIP != "" {
		ip := req.CallerIP
		item.CallerIP = &ip
	}
	if err := q.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", item.Service, item.Method, err)
	}
	return item, nil
}

// List returns items matching filter, newest first.
func (q *Queue) List(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, filter.Status)
	}
	items, err := q.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	if filter == (model.QueueFilter{Status: model.StatusPending}) {
		q.metrics.SetPending(len(items))
	}
	return items, nil
}

// Get returns the item with id, or store.ErrNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	return q.store.GetItem(ctx, id)
}

// Reject moves a pending item to rejected. It fails with store.ErrNotFound
// or *store.ConflictError when the item is missing, already decided, or
// being approved.
func (q *Queue) Reject(ctx context.Context, id string) (*model.QueueItem, error) {
	now := q.Now()
	item, err := q.store.RejectItem(ctx, id, now, now.Add(-q.lease))
	if err != nil {
		return nil, err
	}
	q.logger.Info("mutation_rejected",
		"review_id", item.ID,
		"service", item.Service,
		"method", item.Method,
		"upstream_path", item.UpstreamPath,
	)
	q.publish(ctx, events.TopicMutationRejected, MutationEvent(item))
	return item, nil
}

// Delete removes an item regardless of status.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if err := q.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	q.logger.Info("review_item_deleted", "review_id", id)
	q.publish(ctx, events.TopicItemDeleted, events.ItemDeleted{ReviewID: id})
	return nil
}

func (q *Queue) publish(ctx context.Context, topic string, event any) {
	if err := q.publisher.Publish(ctx, topic, event); err != nil {
		q.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}

// MutationEvent builds the audit payload for an item.
func MutationEvent(item *model.QueueItem) events.Mutation {
	ev := events.Mutation{
		ReviewID:     item.ID,
		Service:      item.Service,
		Method:       item.Method,
		UpstreamPath: item.UpstreamPath,
		Endpoint:     item.Endpoint,
	}
	if item.CallerIP != nil {
		ev.CallerIP = *item.CallerIP
	}
	if item.ResponseStatus != nil {
		ev.UpstreamStatus = *item.ResponseStatus
	}
	if item.LastError != nil {
		ev.Error = *item.LastError
	}
	return ev
}
