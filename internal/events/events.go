package events

import (
	"context"
)

// Audit topics. Every gate outcome and queue transition is published under
// the extgate.> hierarchy.
const (
	TopicDeleteBlocked     = "extgate.delete.blocked"
	TopicMutationEnqueued  = "extgate.mutation.enqueued"
	TopicMutationApproved  = "extgate.mutation.approved"
	TopicMutationRejected  = "extgate.mutation.rejected"
	TopicMutationFailed    = "extgate.mutation.failed"
	TopicMutationForwarded = "extgate.mutation.forwarded"
	TopicItemDeleted       = "extgate.item.deleted"
)

// Topics lists every audit topic.
var Topics = []string{
	TopicDeleteBlocked,
	TopicMutationEnqueued,
	TopicMutationApproved,
	TopicMutationRejected,
	TopicMutationFailed,
	TopicMutationForwarded,
	TopicItemDeleted,
}

// AllTopics matches every audit topic.
const AllTopics = "extgate.>"

// Mutation describes a gated call and, once known, its outcome. Fields that
// do not apply to a topic are omitted.
type Mutation struct {
	ReviewID       string `json:"review_id,omitempty"`
	Service        string `json:"service"`
	Method         string `json:"method"`
	UpstreamPath   string `json:"upstream_path"`
	CallerIP       string `json:"caller_ip,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ItemDeleted is published when an operator removes a queue item.
type ItemDeleted struct {
	ReviewID string `json:"review_id"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
