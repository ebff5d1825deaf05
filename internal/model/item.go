package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a review queue item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// QueueItem is a mutation held for human review. It captures everything
// needed to replay the upstream call verbatim once approved.
//
// Status invariants:
//   - pending: DecidedAt, ResponseStatus and ResponseBody are nil.
//   - approved: DecidedAt and ResponseStatus are set.
//   - rejected: DecidedAt is set, ResponseStatus and ResponseBody are nil.
type QueueItem struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	Status         Status            `json:"status"`
	DecidedAt      *time.Time        `json:"decided_at"`
	Service        string            `json:"service"`
	Method         string            `json:"method"`
	UpstreamPath   string            `json:"upstream_path"`
	Body           json.RawMessage   `json:"body"`
	Params         map[string]string `json:"params"`
	CallerIP       *string           `json:"caller_ip"`
	Endpoint       string            `json:"endpoint"`
	ResponseStatus *int              `json:"response_status"`
	ResponseBody   *string           `json:"response_body"`

	// Execution bookkeeping maintained by the approval executor.
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"last_error"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// Call returns the upstream call described by the item.
func (it *QueueItem) Call() Call {
	return Call{
		Method: it.Method,
		Path:   it.UpstreamPath,
		Body:   it.Body,
		Params: it.Params,
	}
}

// InFlight reports whether an approval holds a claim on the item that has
// not yet outlived lease.
func (it *QueueItem) InFlight(now time.Time, lease time.Duration) bool {
	return it.ClaimedAt != nil && it.ClaimedAt.After(now.Add(-lease))
}

// QueueFilter holds criteria for listing review queue items. Zero-valued
// fields do not constrain the result.
type QueueFilter struct {
	Status  Status `json:"status,omitempty"`
	Service string `json:"service,omitempty"`
}

// Matches reports whether the item satisfies every set criterion.
func (f QueueFilter) Matches(it *QueueItem) bool {
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.Service != "" && it.Service != f.Service {
		return false
	}
	return true
}

// Call is a single upstream request: method, path relative to the service
// base URL, optional JSON body and optional query parameters.
type Call struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Body   json.RawMessage   `json:"body,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}
