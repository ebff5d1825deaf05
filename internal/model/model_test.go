package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatus_IsValid(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusApproved, true},
		{StatusRejected, true},
		{Status(""), false},
		{Status("executed"), false},
	} {
		if got := tc.status.IsValid(); got != tc.want {
			t.Errorf("Status(%q).IsValid() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestQueueFilter_Matches(t *testing.T) {
	item := &QueueItem{Status: StatusPending, Service: "jira"}
	for _, tc := range []struct {
		name   string
		filter QueueFilter
		want   bool
	}{
		{"empty", QueueFilter{}, true},
		{"status match", QueueFilter{Status: StatusPending}, true},
		{"status mismatch", QueueFilter{Status: StatusApproved}, false},
		{"service match", QueueFilter{Service: "jira"}, true},
		{"service mismatch", QueueFilter{Service: "slack"}, false},
		{"both match", QueueFilter{Status: StatusPending, Service: "jira"}, true},
		{"one of two mismatch", QueueFilter{Status: StatusPending, Service: "slack"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(item); got != tc.want {
				t.Errorf("Matches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQueueItem_InFlight(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recent := now.Add(-30 * time.Second)
	stale := now.Add(-10 * time.Minute)

	if (&QueueItem{}).InFlight(now, time.Minute) {
		t.Error("unclaimed item reported in flight")
	}
	if !(&QueueItem{ClaimedAt: &recent}).InFlight(now, time.Minute) {
		t.Error("recent claim not reported in flight")
	}
	if (&QueueItem{ClaimedAt: &stale}).InFlight(now, time.Minute) {
		t.Error("expired claim reported in flight")
	}
}

func TestQueueItem_JSONNulls(t *testing.T) {
	item := &QueueItem{
		ID:           "rq-abc",
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:       StatusPending,
		Service:      "jira",
		Method:       "POST",
		UpstreamPath: "/rest/api/3/issue",
		Endpoint:     "create_issue",
	}
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"decided_at", "body", "params", "caller_ip", "response_status", "response_body"} {
		v, ok := m[key]
		if !ok {
			t.Errorf("key %q missing from JSON", key)
			continue
		}
		if v != nil {
			t.Errorf("key %q = %v, want null", key, v)
		}
	}
	if _, ok := m["claimed_at"]; ok {
		t.Error("claimed_at should be omitted when unset")
	}
}

func TestQueueItem_Call(t *testing.T) {
	item := &QueueItem{
		Method:       "PUT",
		UpstreamPath: "/rest/api/3/issue/ABC-1",
		Body:         json.RawMessage(`{"fields":{}}`),
		Params:       map[string]string{"notifyUsers": "false"},
	}
	c := item.Call()
	if c.Method != "PUT" || c.Path != "/rest/api/3/issue/ABC-1" {
		t.Errorf("Call() = %+v", c)
	}
	if string(c.Body) != `{"fields":{}}` {
		t.Errorf("Call().Body = %s", c.Body)
	}
	if c.Params["notifyUsers"] != "false" {
		t.Errorf("Call().Params = %v", c.Params)
	}
}
