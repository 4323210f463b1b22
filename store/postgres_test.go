package store

import (
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetchtube/internal"
)

// Query-builder tests only; they exercise the SQL generation without a live
// database.

func builderStore() *PostgresStore {
	return &PostgresStore{
		qb:            squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		retentionSize: 100,
	}
}

func TestInsertHistoryQuery(t *testing.T) {
	s := builderStore()
	now := time.Now()

	query, args, err := s.insertHistoryQuery(internal.HistoryEntry{
		URL:       "https://youtu.be/a",
		Title:     "Some Video",
		Format:    "18",
		ClientIP:  "203.0.113.9",
		UserAgent: "agent",
		Success:   true,
		CreatedAt: now,
	}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO download_history")
	assert.Contains(t, query, "$8", "all columns must be parameterized")
	require.Len(t, args, 8)
	assert.Equal(t, "https://youtu.be/a", args[0])
	assert.Equal(t, true, args[5])
	assert.Equal(t, now, args[7])
}

func TestListHistoryQuery(t *testing.T) {
	s := builderStore()

	query, args, err := s.listHistoryQuery(25).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "FROM download_history")
	assert.Contains(t, query, "ORDER BY created_at DESC, id DESC")
	assert.Contains(t, query, "LIMIT 25")
	assert.Empty(t, args)
}

func TestSettingsQueries(t *testing.T) {
	s := builderStore()

	query, args, err := s.qb.Select("value").From("settings").
		Where(squirrel.Eq{"key": "proxy_list"}).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT value FROM settings WHERE key = $1", query)
	assert.Equal(t, []interface{}{"proxy_list"}, args)
}
