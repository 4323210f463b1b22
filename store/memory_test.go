package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetchtube/internal"
)

func entry(url string, success bool) internal.HistoryEntry {
	return internal.HistoryEntry{
		URL:       url,
		Title:     "title",
		Format:    "18",
		ClientIP:  "203.0.113.9",
		Success:   success,
		CreatedAt: time.Now(),
	}
}

func TestMemoryStoreAppendAndList(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/a", true)))
	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/b", false)))
	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/c", true)))

	got, err := s.ListHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first
	assert.Equal(t, "https://youtu.be/c", got[0].URL)
	assert.Equal(t, "https://youtu.be/b", got[1].URL)
	assert.Equal(t, "https://youtu.be/a", got[2].URL)
	assert.False(t, got[1].Success)
}

func TestMemoryStoreListLimit(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendHistory(ctx, entry(fmt.Sprintf("https://youtu.be/%d", i), true)))
	}

	got, err := s.ListHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://youtu.be/4", got[0].URL)
}

func TestMemoryStoreRetention(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendHistory(ctx, entry(fmt.Sprintf("https://youtu.be/%d", i), true)))
	}

	got, err := s.ListHistory(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 3, "retention limit must cap stored entries")
	assert.Equal(t, "https://youtu.be/9", got[0].URL)
	assert.Equal(t, "https://youtu.be/7", got[2].URL)
}

func TestMemoryStoreAssignsIDs(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/a", true)))
	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/b", true)))

	got, err := s.ListHistory(ctx, 10)
	require.NoError(t, err)
	assert.Greater(t, got[0].ID, got[1].ID)
}

func TestMemoryStoreClear(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, entry("https://youtu.be/a", true)))
	require.NoError(t, s.ClearHistory(ctx))

	got, err := s.ListHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreSettings(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	value, err := s.GetSetting(ctx, "proxy_list")
	require.NoError(t, err)
	assert.Empty(t, value, "unset key must read as empty")

	require.NoError(t, s.SetSetting(ctx, "proxy_list", "http://a:80"))
	require.NoError(t, s.SetSetting(ctx, "proxy_list", "http://b:80"))

	value, err = s.GetSetting(ctx, "proxy_list")
	require.NoError(t, err)
	assert.Equal(t, "http://b:80", value, "set must upsert")
}
