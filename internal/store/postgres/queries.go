package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/store"
)

// executor is the subset of *sql.DB and *sql.Tx used by the query functions.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateItem(ctx context.Context, db executor, it *model.QueueItem) error {
	params, err := paramsBytes(it.Params)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO review_queue (
			id, created_at, status, service, method, upstream_path,
			body, params, caller_ip, endpoint
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)`,
		it.ID,
		it.CreatedAt,
		string(it.Status),
		it.Service,
		it.Method,
		it.UpstreamPath,
		jsonBytes(it.Body),
		params,
		nullStringPtr(it.CallerIP),
		it.Endpoint,
	)
	return err
}

func queryGetItem(ctx context.Context, db executor, id string) (*model.QueueItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM review_queue WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return it, err
}

func queryListItems(ctx context.Context, db executor, filter model.QueueFilter) ([]*model.QueueItem, error) {
	var (
		whereClauses []string
		args         []any
	)

	nextArg := func() string {
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		whereClauses = append(whereClauses, "status = "+nextArg())
	}
	if filter.Service != "" {
		args = append(args, filter.Service)
		whereClauses = append(whereClauses, "service = "+nextArg())
	}

	query := `SELECT ` + itemColumns + ` FROM review_queue`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func queryDeleteItem(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM review_queue WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryRejectItem(ctx context.Context, db executor, id string, decidedAt, staleBefore time.Time) (*model.QueueItem, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE review_queue
		SET status = 'rejected', decided_at = $2, claim_token = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'pending' AND (claimed_at IS NULL OR claimed_at < $3)
		RETURNING `+itemColumns,
		id, decidedAt, staleBefore,
	)
	return transitioned(ctx, db, id, row)
}

func queryClaimItem(ctx context.Context, db executor, id, token string, claimedAt, staleBefore time.Time) (*model.QueueItem, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE review_queue
		SET claim_token = $2, claimed_at = $3, attempts = attempts + 1
		WHERE id = $1 AND status = 'pending' AND (claimed_at IS NULL OR claimed_at < $4)
		RETURNING `+itemColumns,
		id, token, claimedAt, staleBefore,
	)
	return transitioned(ctx, db, id, row)
}

func queryCompleteItem(ctx context.Context, db executor, id, token string, decidedAt time.Time, responseStatus int, responseBody *string) (*model.QueueItem, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE review_queue
		SET status = 'approved', decided_at = $3, response_status = $4, response_body = $5,
			last_error = NULL, claim_token = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'pending' AND claim_token = $2
		RETURNING `+itemColumns,
		id, token, decidedAt, responseStatus, nullStringPtr(responseBody),
	)
	return transitioned(ctx, db, id, row)
}

func queryReleaseItem(ctx context.Context, db executor, id, token, lastError string) (*model.QueueItem, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE review_queue
		SET claim_token = NULL, claimed_at = NULL, last_error = $3
		WHERE id = $1 AND status = 'pending' AND claim_token = $2
		RETURNING `+itemColumns,
		id, token, nullString(lastError),
	)
	return transitioned(ctx, db, id, row)
}

// transitioned scans the RETURNING row of a conditional update. When the
// update matched nothing it re-reads the item to tell a missing id apart
// from a lost race.
func transitioned(ctx context.Context, db executor, id string, row *sql.Row) (*model.QueueItem, error) {
	it, err := scanItem(row)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	cur, err := queryGetItem(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return nil, store.Conflict(cur)
}
