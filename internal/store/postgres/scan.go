package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
)

// itemColumns is the column order expected by scanItem.
const itemColumns = `id, created_at, status, decided_at, service, method, upstream_path,
	body, params, caller_ip, endpoint, response_status, response_body,
	attempts, last_error, claimed_at`

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanItem scans a single row into a model.QueueItem.
// The row must contain columns in the order defined by itemColumns.
func scanItem(row scannable) (*model.QueueItem, error) {
	var it model.QueueItem
	var (
		decidedAt      sql.NullTime
		body           []byte
		params         []byte
		callerIP       sql.NullString
		responseStatus sql.NullInt64
		responseBody   sql.NullString
		lastError      sql.NullString
		claimedAt      sql.NullTime
	)

	err := row.Scan(
		&it.ID,
		&it.CreatedAt,
		&it.Status,
		&decidedAt,
		&it.Service,
		&it.Method,
		&it.UpstreamPath,
		&body,
		&params,
		&callerIP,
		&it.Endpoint,
		&responseStatus,
		&responseBody,
		&it.Attempts,
		&lastError,
		&claimedAt,
	)
	if err != nil {
		return nil, err
	}

	it.DecidedAt = timePtr(decidedAt)
	it.ClaimedAt = timePtr(claimedAt)
	it.CallerIP = stringPtr(callerIP)
	it.ResponseBody = stringPtr(responseBody)
	it.LastError = stringPtr(lastError)
	if responseStatus.Valid {
		n := int(responseStatus.Int64)
		it.ResponseStatus = &n
	}
	if len(body) > 0 {
		it.Body = json.RawMessage(body)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &it.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", it.ID, err)
		}
	}

	return &it, nil
}

// scanItems scans multiple rows into a slice of model.QueueItem pointers.
func scanItems(rows *sql.Rows) ([]*model.QueueItem, error) {
	var items []*model.QueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// jsonBytes converts json.RawMessage for the body column. The column is
// JSON rather than JSONB so approvals replay the caller's exact bytes.
func jsonBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// paramsBytes encodes query parameters for the params JSONB column; nil
// stays SQL NULL.
func paramsBytes(p map[string]string) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return b, nil
}
