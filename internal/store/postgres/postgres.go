// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/extgate/internal/model"
	"github.com/alfredjeanlab/extgate/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "extgate_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.QueueItem) error {
	return queryCreateItem(ctx, s.db, item)
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	return queryGetItem(ctx, s.db, id)
}

func (s *PostgresStore) ListItems(ctx context.Context, filter model.QueueFilter) ([]*model.QueueItem, error) {
	return queryListItems(ctx, s.db, filter)
}

func (s *PostgresStore) DeleteItem(ctx context.Context, id string) error {
	return queryDeleteItem(ctx, s.db, id)
}

func (s *PostgresStore) RejectItem(ctx context.Context, id string, decidedAt, staleBefore time.Time) (*model.QueueItem, error) {
	return queryRejectItem(ctx, s.db, id, decidedAt, staleBefore)
}

func (s *PostgresStore) ClaimItem(ctx context.Context, id, token string, claimedAt, staleBefore time.Time) (*model.QueueItem, error) {
	return queryClaimItem(ctx, s.db, id, token, claimedAt, staleBefore)
}

func (s *PostgresStore) CompleteItem(ctx context.Context, id, token string, decidedAt time.Time, responseStatus int, responseBody *string) (*model.QueueItem, error) {
	return queryCompleteItem(ctx, s.db, id, token, decidedAt, responseStatus, responseBody)
}

func (s *PostgresStore) ReleaseItem(ctx context.Context, id, token, lastError string) (*model.QueueItem, error) {
	return queryReleaseItem(ctx, s.db, id, token, lastError)
}
