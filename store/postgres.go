package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"fetchtube/internal"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS download_history (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	format     TEXT NOT NULL DEFAULT '',
	client_ip  TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	success    BOOLEAN NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// PostgresStore persists history and settings in Postgres
type PostgresStore struct {
	db            *sqlx.DB
	qb            squirrel.StatementBuilderType
	retentionSize int
}

// NewPostgresStore connects to the database, applies the schema, and returns
// a ready store. retentionSize bounds how many history rows survive pruning.
func NewPostgresStore(dsn string, retentionSize int) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	internal.LogInfo("Connected to Postgres history store")
	return &PostgresStore{
		db:            db,
		qb:            squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		retentionSize: retentionSize,
	}, nil
}

// AppendHistory inserts one entry and prunes beyond the retention limit
func (s *PostgresStore) AppendHistory(ctx context.Context, entry internal.HistoryEntry) error {
	query, args, err := s.insertHistoryQuery(entry).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return s.pruneHistory(ctx)
}

func (s *PostgresStore) insertHistoryQuery(entry internal.HistoryEntry) squirrel.InsertBuilder {
	return s.qb.Insert("download_history").
		Columns("url", "title", "format", "client_ip", "user_agent", "success", "error", "created_at").
		Values(entry.URL, entry.Title, entry.Format, entry.ClientIP, entry.UserAgent, entry.Success, entry.Error, entry.CreatedAt)
}

// pruneHistory deletes everything older than the newest retentionSize rows
func (s *PostgresStore) pruneHistory(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM download_history
		WHERE id NOT IN (SELECT id FROM download_history ORDER BY created_at DESC, id DESC LIMIT %d)`,
		s.retentionSize)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// ListHistory returns up to limit entries, newest first
func (s *PostgresStore) ListHistory(ctx context.Context, limit int) ([]internal.HistoryEntry, error) {
	query, args, err := s.listHistoryQuery(limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	var entries []internal.HistoryEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) listHistoryQuery(limit int) squirrel.SelectBuilder {
	return s.qb.
		Select("id", "url", "title", "format", "client_ip", "user_agent", "success", "error", "created_at").
		From("download_history").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
}

// ClearHistory removes all history rows
func (s *PostgresStore) ClearHistory(ctx context.Context) error {
	query, args, err := s.qb.Delete("download_history").ToSql()
	if err != nil {
		return fmt.Errorf("build clear: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// GetSetting returns the value for key, or "" when unset
func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := s.qb.Select("value").From("settings").
		Where(squirrel.Eq{"key": key}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build get: %w", err)
	}

	var value string
	err = s.db.GetContext(ctx, &value, query, args...)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings key
func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	query, args, err := s.qb.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// Close releases the database connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
