// Package store persists batch status records in SQLite. Writes go
// through IMMEDIATE transactions so that a post-submission poll and the
// periodic sweep can touch the same batch concurrently; records are
// never deleted, a terminal batch simply stops being loaded as pending.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/tracker"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_status (
	id              TEXT PRIMARY KEY,
	environment     TEXT NOT NULL,
	protocol_number TEXT NOT NULL,
	status          TEXT NOT NULL,
	last_code       TEXT NOT NULL DEFAULT '',
	last_message    TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_checked_at INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS batch_status_env_status ON batch_status(environment, status);
`

// Config holds the store parameters
type Config struct {
	// Path is the SQLite database file. ":memory:" works for tests
	// with PoolSize 1.
	Path     string
	PoolSize int
	Logger   *zap.Logger
}

// Store is a SQLite-backed batch status store
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
}

// Open creates the store, the database file, and the schema
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: cfg.PoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("store: %s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	cfg.Logger.Info("batch status store opened",
		zap.String("path", cfg.Path),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return &Store{pool: pool, logger: cfg.Logger}, nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.pool.Close()
}

// SaveBatchStatus inserts a new tracking record
func (s *Store) SaveBatchStatus(ctx context.Context, bs *tracker.BatchStatus) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO batch_status
			(id, environment, protocol_number, status, last_code, last_message, attempts, last_checked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				bs.ID,
				string(bs.Environment),
				bs.ProtocolNumber,
				string(bs.Status),
				bs.LastCode,
				bs.LastMessage,
				bs.Attempts,
				bs.LastCheckedAt.Unix(),
				time.Now().Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert batch %s: %w", bs.ID, err)
	}
	return nil
}

// LoadPendingBatches returns every non-terminal batch of the environment
func (s *Store) LoadPendingBatches(ctx context.Context, env model.Environment) ([]*tracker.BatchStatus, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var batches []*tracker.BatchStatus
	err = sqlitex.Execute(conn,
		`SELECT id, environment, protocol_number, status, last_code, last_message, attempts, last_checked_at
		FROM batch_status
		WHERE environment = ? AND status IN (?, ?)
		ORDER BY created_at`,
		&sqlitex.ExecOptions{
			Args: []any{string(env), string(tracker.StatusPending), string(tracker.StatusProcessing)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				batches = append(batches, scanBatch(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: load pending batches: %w", err)
	}
	return batches, nil
}

// UpdateBatchStatus persists a poll transition for an existing record
func (s *Store) UpdateBatchStatus(ctx context.Context, bs *tracker.BatchStatus) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`UPDATE batch_status
		SET status = ?, last_code = ?, last_message = ?, attempts = ?, last_checked_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(bs.Status),
				bs.LastCode,
				bs.LastMessage,
				bs.Attempts,
				bs.LastCheckedAt.Unix(),
				bs.ID,
			},
		})
	if err != nil {
		return fmt.Errorf("store: update batch %s: %w", bs.ID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: batch %s does not exist", bs.ID)
	}
	return nil
}

// GetBatchStatus returns one record by correlation id, or nil when the
// batch was never tracked.
func (s *Store) GetBatchStatus(ctx context.Context, id string) (*tracker.BatchStatus, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var found *tracker.BatchStatus
	err = sqlitex.Execute(conn,
		`SELECT id, environment, protocol_number, status, last_code, last_message, attempts, last_checked_at
		FROM batch_status WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = scanBatch(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get batch %s: %w", id, err)
	}
	return found, nil
}

func scanBatch(stmt *sqlite.Stmt) *tracker.BatchStatus {
	return &tracker.BatchStatus{
		ID:             stmt.ColumnText(0),
		Environment:    model.Environment(stmt.ColumnText(1)),
		ProtocolNumber: stmt.ColumnText(2),
		Status:         tracker.Status(stmt.ColumnText(3)),
		LastCode:       stmt.ColumnText(4),
		LastMessage:    stmt.ColumnText(5),
		Attempts:       int(stmt.ColumnInt64(6)),
		LastCheckedAt:  time.Unix(stmt.ColumnInt64(7), 0),
	}
}
