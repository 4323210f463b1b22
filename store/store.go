// Package store persists download history and admin settings. Two
// implementations exist: a Postgres-backed store for real deployments and an
// in-memory store used when no database is configured.
package store

import (
	"context"

	"fetchtube/internal"
)

// Store is the persistence collaborator for history and settings. Append is
// atomic; List returns entries most-recent-first. No ordering guarantees
// beyond that.
type Store interface {
	// AppendHistory records one completed or failed download and prunes the
	// table to the retention limit.
	AppendHistory(ctx context.Context, entry internal.HistoryEntry) error
	// ListHistory returns up to limit entries, newest first
	ListHistory(ctx context.Context, limit int) ([]internal.HistoryEntry, error)
	// ClearHistory removes all history entries
	ClearHistory(ctx context.Context) error

	// GetSetting returns the value for key, or "" when unset
	GetSetting(ctx context.Context, key string) (string, error)
	// SetSetting upserts a settings key
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
