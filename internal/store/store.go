package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
)

// ErrNotFound is returned when no queue item has the requested id.
var ErrNotFound = errors.New("queue item not found")

// ConflictError is returned when a transition out of pending loses: the item
// was already decided, or another approval holds a live claim on it.
type ConflictError struct {
	ID       string
	Status   model.Status
	InFlight bool
}

func (e *ConflictError) Error() string {
	if e.InFlight {
		return fmt.Sprintf("queue item %s has an approval in flight", e.ID)
	}
	return fmt.Sprintf("queue item %s is %s, not pending", e.ID, e.Status)
}

// Store defines the persistence interface for the review queue.
//
// Every transition out of pending is a single conditional write: it applies
// only when the item is still pending (and, where relevant, unclaimed or
// holding the caller's claim). A losing writer receives ErrNotFound or a
// *ConflictError and observes no change.
type Store interface {
	CreateItem(ctx context.Context, item *model.QueueItem) error
	GetItem(ctx context.Context, id string) (*model.QueueItem, error)
	// ListItems returns matching items newest first.
	ListItems(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error)
	DeleteItem(ctx context.Context, id string) error

	// RejectItem moves a pending, unclaimed item to rejected. Claims taken
	// before staleBefore are treated as abandoned.
	RejectItem(ctx context.Context, id string, decidedAt, staleBefore time.Time) (*model.QueueItem, error)

	// ClaimItem marks a pending item as being executed under token and
	// increments its attempt count. Claims taken before staleBefore may be
	// re-taken.
	ClaimItem(ctx context.Context, id, token string, claimedAt, staleBefore time.Time) (*model.QueueItem, error)

	// CompleteItem records the upstream response and moves the item to
	// approved, provided token still holds the claim.
	CompleteItem(ctx context.Context, id, token string, decidedAt time.Time, responseStatus int, responseBody *string) (*model.QueueItem, error)

	// ReleaseItem drops the claim held by token, leaving the item pending,
	// and records lastError.
	ReleaseItem(ctx context.Context, id, token, lastError string) (*model.QueueItem, error)

	Ping(ctx context.Context) error
	Close() error
}

// Conflict builds the error for a transition that found item in a state it
// could not leave.
func Conflict(item *model.QueueItem) *ConflictError {
	return &ConflictError{
		ID:       item.ID,
		Status:   item.Status,
		InFlight: item.Status == model.StatusPending,
	}
}
