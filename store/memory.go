package store

import (
	"context"
	"sync"

	"fetchtube/internal"
)

// MemoryStore is the in-process fallback used when no database is
// configured. History survives only for the life of the process.
type MemoryStore struct {
	mutex         sync.RWMutex
	history       []internal.HistoryEntry
	settings      map[string]string
	retentionSize int
	nextID        int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(retentionSize int) *MemoryStore {
	return &MemoryStore{
		settings:      make(map[string]string),
		retentionSize: retentionSize,
		nextID:        1,
	}
}

// AppendHistory records one entry, pruning the oldest beyond the retention limit
func (s *MemoryStore) AppendHistory(ctx context.Context, entry internal.HistoryEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry.ID = s.nextID
	s.nextID++
	s.history = append(s.history, entry)

	if excess := len(s.history) - s.retentionSize; excess > 0 {
		s.history = s.history[excess:]
	}
	return nil
}

// ListHistory returns up to limit entries, newest first
func (s *MemoryStore) ListHistory(ctx context.Context, limit int) ([]internal.HistoryEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]internal.HistoryEntry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

// ClearHistory removes all entries
func (s *MemoryStore) ClearHistory(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.history = nil
	return nil
}

// GetSetting returns the value for key, or "" when unset
func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.settings[key], nil
}

// SetSetting upserts a settings key
func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.settings[key] = value
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
