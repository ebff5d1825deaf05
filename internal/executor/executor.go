// Package executor replays approved review queue items against their
// upstream service.
//
// Approval is split in three steps so that no lock is held across the
// network call: claim the pending item, call the service once, then record
// the outcome. The claim makes concurrent approvals of the same item
// mutually exclusive, so each item causes at most one upstream call per
// claim.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/alfredjeanlab/extgate/internal/events"
	"github.com/alfredjeanlab/extgate/internal/idgen"
	"github.com/alfredjeanlab/extgate/internal/metrics"
	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/store"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// ErrUnknownService is returned when an item names a service with no
// configured client.
var ErrUnknownService = errors.New("no upstream client for service")

// UpstreamError reports that the upstream call for an approval produced no
// response. The item stays pending and may be approved again.
type UpstreamError struct {
	Item *model.QueueItem
	Err  *upstream.TransportError
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("approve %s: %v", e.Item.ID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RecordError reports that the upstream call for an approval returned a
// response that could not be recorded, usually because the claim expired
// and was taken over. The mutation has been applied upstream.
type RecordError struct {
	Item           *model.QueueItem
	ResponseStatus int
	Err            error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record approval of %s (upstream status %d): %v", e.Item.ID, e.ResponseStatus, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Executor approves review queue items.
type Executor struct {
	queue     *queue.Queue
	clients   upstream.Registry
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New returns an Executor. publisher, m and logger may be nil.
func New(q *queue.Queue, clients upstream.Registry, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		queue:     q,
		clients:   clients,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Approve executes the stored call for item id and records the result.
//
// It returns store.ErrNotFound for an unknown id and *store.ConflictError
// when the item is decided or another approval is in flight. A transport
// failure returns *UpstreamError and leaves the item pending. Any HTTP
// response from the service, including an error status, approves the item;
// if that outcome cannot be stored the error is a *RecordError.
func (e *Executor) Approve(ctx context.Context, id string) (*model.QueueItem, error) {
	st := e.queue.Store()

	token, err := idgen.Token()
	if err != nil {
		return nil, err
	}
	now := e.queue.Now()
	item, err := st.ClaimItem(ctx, id, token, now, now.Add(-e.queue.ClaimLease()))
	if err != nil {
		e.metrics.IncApproval("unknown", claimResult(err))
		return nil, err
	}

	// Past this point the outcome must be recorded even if the operator's
	// request is cancelled.
	recordCtx := context.WithoutCancel(ctx)

	client, ok := e.clients.Lookup(item.Service)
	if !ok {
		e.release(recordCtx, item, token, ErrUnknownService.Error())
		e.metrics.IncApproval(item.Service, "error")
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, item.Service)
	}

	resp, err := client.Do(ctx, item.Call())
	if err != nil {
		var te *upstream.TransportError
		if !errors.As(err, &te) {
			te = &upstream.TransportError{Service: item.Service, Err: err}
		}
		released := e.release(recordCtx, item, token, te.Error())
		e.metrics.IncApproval(item.Service, "upstream_error")
		e.logger.Warn("mutation_approval_failed",
			"review_id", item.ID,
			"service", item.Service,
			"method", item.Method,
			"upstream_path", item.UpstreamPath,
			"timeout", te.Timeout,
			"err", te.Err,
		)
		e.publish(recordCtx, events.TopicMutationFailed, queue.MutationEvent(released))
		return nil, &UpstreamError{Item: released, Err: te}
	}

	body := captureBody(resp.Body)
	done, err := st.CompleteItem(recordCtx, item.ID, token, e.queue.Now(), resp.StatusCode, body)
	if err != nil {
		// The call went out but the claim was lost (lease expired) or the
		// store failed; the upstream effect cannot be undone.
		e.metrics.IncApproval(item.Service, "error")
		e.logger.Error("failed to record approved mutation",
			"review_id", item.ID,
			"service", item.Service,
			"upstream_status", resp.StatusCode,
			"err", err,
		)
		return nil, &RecordError{Item: item, ResponseStatus: resp.StatusCode, Err: err}
	}

	e.metrics.IncApproval(done.Service, "approved")
	e.logger.Info("mutation_approved",
		"review_id", done.ID,
		"service", done.Service,
		"method", done.Method,
		"upstream_path", done.UpstreamPath,
		"upstream_status", resp.StatusCode,
	)
	e.publish(recordCtx, events.TopicMutationApproved, queue.MutationEvent(done))
	return done, nil
}

// release drops the claim and returns the item as it now stands. If the
// release itself fails the claim simply expires with the lease.
func (e *Executor) release(ctx context.Context, item *model.QueueItem, token, reason string) *model.QueueItem {
	released, err := e.queue.Store().ReleaseItem(ctx, item.ID, token, reason)
	if err != nil {
		e.logger.Warn("failed to release approval claim", "review_id", item.ID, "err", err)
		return item
	}
	return released
}

func (e *Executor) publish(ctx context.Context, topic string, event any) {
	if err := e.publisher.Publish(ctx, topic, event); err != nil {
		e.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}

// captureBody keeps the response body when it is valid UTF-8 text.
func captureBody(b []byte) *string {
	if !utf8.Valid(b) {
		return nil
	}
	s := string(b)
	return &s
}

func claimResult(err error) string {
	var conflict *store.ConflictError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	default:
		return "error"
	}
}
