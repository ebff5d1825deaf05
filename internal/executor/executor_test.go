package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/queue"
	"github.com/alfredjeanlab/extgate/internal/store"
	"github.com/alfredjeanlab/extgate/internal/store/memory"
	"github.com/alfredjeanlab/extgate/internal/upstream"
)

// fakeClient returns a canned response or error and counts calls.
type fakeClient struct {
	calls atomic.Int32
	resp  *upstream.Response
	err   error
	// gate, when non-nil, blocks each call until closed.
	gate chan struct{}
	// onCall runs inside Do before returning.
	onCall func()
	last   model.Call
	mu     sync.Mutex
}

func (f *fakeClient) Do(_ context.Context, call model.Call) (*upstream.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = call
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.onCall != nil {
		f.onCall()
	}
	return f.resp, f.err
}

func setup(t *testing.T, client upstream.Client) (*Executor, *queue.Queue, *model.QueueItem) {
	t.Helper()
	q := queue.New(memory.New())
	item, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Service:      "jira",
		Method:       "PUT",
		UpstreamPath: "/rest/api/3/issue/ABC-1",
		Body:         []byte(`{"fields":{"summary":"new"}}`),
		Params:       map[string]string{"notifyUsers": "false"},
		Endpoint:     "update_issue",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return New(q, upstream.Registry{"jira": client}, nil, nil, nil), q, item
}

func TestApprove_Success(t *testing.T) {
	client := &fakeClient{resp: &upstream.Response{StatusCode: 204, Body: nil}}
	ex, q, item := setup(t, client)

	done, err := ex.Approve(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.Status != model.StatusApproved || done.DecidedAt == nil {
		t.Errorf("done = %+v", done)
	}
	if done.ResponseStatus == nil || *done.ResponseStatus != 204 {
		t.Errorf("ResponseStatus = %v", done.ResponseStatus)
	}
	if done.ResponseBody == nil || *done.ResponseBody != "" {
		t.Errorf("ResponseBody = %v, want empty string", done.ResponseBody)
	}
	if client.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", client.calls.Load())
	}
	if client.last.Method != "PUT" || client.last.Path != "/rest/api/3/issue/ABC-1" ||
		string(client.last.Body) != `{"fields":{"summary":"new"}}` || client.last.Params["notifyUsers"] != "false" {
		t.Errorf("replayed call = %+v", client.last)
	}

	stored, _ := q.Get(context.Background(), item.ID)
	if stored.Status != model.StatusApproved || stored.Attempts != 1 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestApprove_UpstreamErrorStatusStillApproves(t *testing.T) {
	client := &fakeClient{resp: &upstream.Response{StatusCode: 500, Body: []byte(`{"errorMessages":["boom"]}`)}}
	ex, _, item := setup(t, client)

	done, err := ex.Approve(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.Status != model.StatusApproved || *done.ResponseStatus != 500 {
		t.Errorf("done = %+v", done)
	}
	if *done.ResponseBody != `{"errorMessages":["boom"]}` {
		t.Errorf("ResponseBody = %q", *done.ResponseBody)
	}
}

func TestApprove_NonUTF8BodyNotCaptured(t *testing.T) {
	client := &fakeClient{resp: &upstream.Response{StatusCode: 200, Body: []byte{0xff, 0xfe, 0x00}}}
	ex, _, item := setup(t, client)

	done, err := ex.Approve(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.ResponseBody != nil {
		t.Errorf("ResponseBody = %q, want nil", *done.ResponseBody)
	}
	if done.Status != model.StatusApproved {
		t.Errorf("Status = %s", done.Status)
	}
}

func TestApprove_TransportFailureLeavesPending(t *testing.T) {
	client := &fakeClient{err: &upstream.TransportError{Service: "jira", Err: errors.New("connection refused")}}
	ex, q, item := setup(t, client)

	_, err := ex.Approve(context.Background(), item.ID)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Err.Timeout {
		t.Error("unexpected timeout flag")
	}

	stored, _ := q.Get(context.Background(), item.ID)
	if stored.Status != model.StatusPending || stored.DecidedAt != nil || stored.ClaimedAt != nil {
		t.Errorf("stored = %+v", stored)
	}
	if stored.LastError == nil || stored.Attempts != 1 {
		t.Errorf("LastError = %v Attempts = %d", stored.LastError, stored.Attempts)
	}

	// The item can be approved once the service is back.
	client.err = nil
	client.resp = &upstream.Response{StatusCode: 200, Body: []byte(`{}`)}
	done, err := ex.Approve(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("retry Approve: %v", err)
	}
	if done.Status != model.StatusApproved || done.Attempts != 2 || done.LastError != nil {
		t.Errorf("done = %+v", done)
	}
}

func TestApprove_NotFound(t *testing.T) {
	client := &fakeClient{}
	ex, _, _ := setup(t, client)
	if _, err := ex.Approve(context.Background(), "rq-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if client.calls.Load() != 0 {
		t.Error("upstream called for missing item")
	}
}

func TestApprove_AlreadyDecided(t *testing.T) {
	client := &fakeClient{resp: &upstream.Response{StatusCode: 200}}
	ex, q, item := setup(t, client)
	if _, err := q.Reject(context.Background(), item.ID); err != nil {
		t.Fatal(err)
	}

	_, err := ex.Approve(context.Background(), item.ID)
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) || conflict.Status != model.StatusRejected {
		t.Fatalf("expected conflict with rejected, got %v", err)
	}
	if client.calls.Load() != 0 {
		t.Error("upstream called for decided item")
	}
}

func TestApprove_UnknownService(t *testing.T) {
	ex, q, item := setup(t, &fakeClient{})
	ex.clients = upstream.Registry{}

	if _, err := ex.Approve(context.Background(), item.ID); !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
	stored, _ := q.Get(context.Background(), item.ID)
	if stored.Status != model.StatusPending || stored.ClaimedAt != nil {
		t.Errorf("stored = %+v", stored)
	}
}

func TestApprove_ConcurrentSingleUpstreamCall(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{resp: &upstream.Response{StatusCode: 201, Body: []byte(`{}`)}, gate: gate}
	ex, _, item := setup(t, client)

	const n = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			_, err := ex.Approve(context.Background(), item.ID)
			var conflict *store.ConflictError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &conflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-started
	}
	// Let the losers hit the live claim before the winner finishes.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if client.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", client.calls.Load())
	}
	if successes.Load() != 1 || conflicts.Load() != n-1 {
		t.Errorf("successes = %d conflicts = %d", successes.Load(), conflicts.Load())
	}
}

func TestApprove_RecordsAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{resp: &upstream.Response{StatusCode: 200, Body: []byte(`ok`)}, onCall: cancel}
	ex, q, item := setup(t, client)

	done, err := ex.Approve(ctx, item.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.Status != model.StatusApproved {
		t.Errorf("Status = %s", done.Status)
	}
	stored, _ := q.Get(context.Background(), item.ID)
	if stored.Status != model.StatusApproved {
		t.Errorf("stored Status = %s", stored.Status)
	}
}

func TestApprove_LostClaimAfterCall(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	q := queue.New(memory.New(), queue.WithClaimLease(20*time.Millisecond), queue.WithClock(now))
	item, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Service:      "jira",
		Method:       "POST",
		UpstreamPath: "/rest/api/3/issue",
		Body:         []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	client := &fakeClient{resp: &upstream.Response{StatusCode: 201, Body: []byte(`{"id":"1"}`)}}
	client.onCall = func() {
		// The call outlives the lease and a second approver takes the item.
		clock.Add(int64(50 * time.Millisecond))
		at := q.Now()
		if _, err := q.Store().ClaimItem(context.Background(), item.ID, "second-approver", at, at.Add(-q.ClaimLease())); err != nil {
			t.Errorf("re-claim: %v", err)
		}
	}
	ex := New(q, upstream.Registry{"jira": client}, nil, nil, nil)

	_, err = ex.Approve(context.Background(), item.ID)
	var recordErr *RecordError
	if !errors.As(err, &recordErr) {
		t.Fatalf("expected *RecordError, got %T: %v", err, err)
	}
	if recordErr.ResponseStatus != 201 || recordErr.Item.ID != item.ID {
		t.Errorf("recordErr = %+v", recordErr)
	}
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) || !conflict.InFlight {
		t.Errorf("cause = %v, want in-flight conflict", recordErr.Err)
	}

	stored, _ := q.Get(context.Background(), item.ID)
	if stored.Status != model.StatusPending || stored.Attempts != 2 {
		t.Errorf("stored = %+v, want pending with 2 attempts", stored)
	}
}

func TestApprove_SecondApproveIsNoop(t *testing.T) {
	client := &fakeClient{resp: &upstream.Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}}
	ex, q, item := setup(t, client)

	first, err := ex.Approve(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("first Approve: %v", err)
	}

	_, err = ex.Approve(context.Background(), item.ID)
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) || conflict.Status != model.StatusApproved || conflict.InFlight {
		t.Fatalf("second Approve: expected not-pending conflict, got %v", err)
	}
	if client.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", client.calls.Load())
	}

	stored, _ := q.Get(context.Background(), item.ID)
	if !stored.DecidedAt.Equal(*first.DecidedAt) {
		t.Errorf("DecidedAt = %v, want %v", stored.DecidedAt, first.DecidedAt)
	}
	if *stored.ResponseStatus != *first.ResponseStatus || *stored.ResponseBody != *first.ResponseBody {
		t.Errorf("response = %d %q, want %d %q",
			*stored.ResponseStatus, *stored.ResponseBody, *first.ResponseStatus, *first.ResponseBody)
	}
}
