package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "chatdesk/errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Postgres error codes that mean "the write does not fit".
const (
	pgDiskFull             = "53100"
	pgOutOfMemory          = "53200"
	pgProgramLimitExceeded = "54000"
)

// PostgresKV keeps every document as one row of kv_store.
type PostgresKV struct {
	DB       *sql.DB
	maxBytes int64
	logger   *zap.Logger
}

func NewPostgresKV(connStr string, maxBytes int64, logger *zap.Logger) (*PostgresKV, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to the database")
	return &PostgresKV{DB: db, maxBytes: maxBytes, logger: logger}, nil
}

// EnsureSchema creates the required tables if they do not already exist.
func (s *PostgresKV) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            updated_at TIMESTAMPTZ DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_kv_store_key_prefix ON kv_store(key text_pattern_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %q: %v", apperrors.ErrDatabaseOperation, key, err)
	}
	return value, nil
}

func (s *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.maxBytes > 0 {
		var used int64
		query := `SELECT COALESCE(SUM(octet_length(key) + octet_length(value)), 0) FROM kv_store WHERE key <> $1`
		if err := tx.QueryRowContext(ctx, query, key).Scan(&used); err != nil {
			return fmt.Errorf("%w: measure usage: %v", apperrors.ErrDatabaseOperation, err)
		}
		if used+int64(len(key)+len(value)) > s.maxBytes {
			return fmt.Errorf("set %q (%d bytes, quota %d): %w", key, len(value), s.maxBytes, apperrors.ErrStorageQuota)
		}
	}

	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return classifyWriteError(key, err)
	}
	if err := tx.Commit(); err != nil {
		return classifyWriteError(key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ANY($1)`, pq.Array(keys)); err != nil {
		return fmt.Errorf("%w: delete: %v", apperrors.ErrDatabaseOperation, err)
	}
	return nil
}

func (s *PostgresKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key FROM kv_store WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresKV) Close() error {
	return s.DB.Close()
}

func classifyWriteError(key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDiskFull, pgOutOfMemory, pgProgramLimitExceeded:
			return fmt.Errorf("set %q: %s: %w", key, pgErr.Message, apperrors.ErrStorageQuota)
		}
	}
	return fmt.Errorf("%w: set %q: %v", apperrors.ErrDatabaseOperation, key, err)
}
