// Package memory implements store.Store in process memory. It backs local
// development and tests; state is lost on restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/store"
)

type entry struct {
	item  model.QueueItem
	token string
}

// Store is a mutex-guarded map of queue items.
type Store struct {
	mu    sync.Mutex
	items map[string]*entry
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{items: make(map[string]*entry)}
}

func (s *Store) CreateItem(_ context.Context, item *model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = &entry{item: clone(item)}
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	it := clone(&e.item)
	return &it, nil
}

func (s *Store) ListItems(_ context.Context, filter model.QueueFilter) ([]*model.QueueItem, error) {
	s.mu.Lock()
	var out []*model.QueueItem
	for _, e := range s.items {
		if filter.Matches(&e.item) {
			it := clone(&e.item)
			out = append(out, &it)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *model.QueueItem) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) RejectItem(_ context.Context, id string, decidedAt, staleBefore time.Time) (*model.QueueItem, error) {
	return s.transition(id, func(e *entry) bool {
		return e.item.Status == model.StatusPending && !claimLive(e, staleBefore)
	}, func(e *entry) {
		e.item.Status = model.StatusRejected
		e.item.DecidedAt = &decidedAt
		e.item.ClaimedAt = nil
		e.token = ""
	})
}

func (s *Store) ClaimItem(_ context.Context, id, token string, claimedAt, staleBefore time.Time) (*model.QueueItem, error) {
	return s.transition(id, func(e *entry) bool {
		return e.item.Status == model.StatusPending && !claimLive(e, staleBefore)
	}, func(e *entry) {
		e.item.ClaimedAt = &claimedAt
		e.item.Attempts++
		e.token = token
	})
}

func (s *Store) CompleteItem(_ context.Context, id, token string, decidedAt time.Time, responseStatus int, responseBody *string) (*model.QueueItem, error) {
	return s.transition(id, func(e *entry) bool {
		return e.item.Status == model.StatusPending && e.token == token
	}, func(e *entry) {
		e.item.Status = model.StatusApproved
		e.item.DecidedAt = &decidedAt
		e.item.ResponseStatus = &responseStatus
		e.item.ResponseBody = responseBody
		e.item.LastError = nil
		e.item.ClaimedAt = nil
		e.token = ""
	})
}

func (s *Store) ReleaseItem(_ context.Context, id, token, lastError string) (*model.QueueItem, error) {
	return s.transition(id, func(e *entry) bool {
		return e.item.Status == model.StatusPending && e.token == token
	}, func(e *entry) {
		e.item.ClaimedAt = nil
		e.token = ""
		if lastError == "" {
			e.item.LastError = nil
		} else {
			e.item.LastError = &lastError
		}
	})
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// transition applies mutate when cond holds, all under the lock, mirroring
// the conditional UPDATE of the SQL store.
func (s *Store) transition(id string, cond func(*entry) bool, mutate func(*entry)) (*model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !cond(e) {
		return nil, store.Conflict(&e.item)
	}
	mutate(e)
	it := clone(&e.item)
	return &it, nil
}

func claimLive(e *entry, staleBefore time.Time) bool {
	return e.token != "" && e.item.ClaimedAt != nil && !e.item.ClaimedAt.Before(staleBefore)
}

// clone copies an item so callers never share maps or slices with the store.
func clone(it *model.QueueItem) model.QueueItem {
	c := *it
	if it.Body != nil {
		c.Body = slices.Clone(it.Body)
	}
	if it.Params != nil {
		c.Params = maps.Clone(it.Params)
	}
	return c
}
