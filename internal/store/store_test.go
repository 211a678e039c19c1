package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, latestMigration(), v)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.migrate())

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"agents", "threads", "messages", "messages_fts"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := testDB(t)
	var on int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&on))
	assert.Equal(t, 1, on)
}

func TestOpen_SealsStreamingMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playforge.db")
	log := logging.New(nil, "silent")
	ctx := context.Background()

	db, err := Open(path, log)
	require.NoError(t, err)
	s := NewSQLiteThreadStore(db)
	_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleTool, ToolName: domain.ToolNameThinking, Streaming: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()
	s = NewSQLiteThreadStore(db)

	msgs, err := s.ListMessages(ctx, th.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
	assert.False(t, msgs[0].Streaming)
}

func TestFTSQuery_QuotesTerms(t *testing.T) {
	assert.Equal(t, `"boss" "OR" "arena"`, ftsQuery("boss OR arena"))
	assert.Equal(t, `"say" """hi"""`, ftsQuery(`say "hi"`))
	assert.Empty(t, ftsQuery("   "))
}

func TestSQLiteSearch_MatchesEachWord(t *testing.T) {
	s := NewSQLiteThreadStore(testDB(t))
	ctx := context.Background()
	_, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
	require.NoError(t, err)
	for _, c := range []string{`The guard should say "hi" first`, "Say nothing, then HI", "Boss arena"} {
		_, err := s.AppendMessage(ctx, domain.Message{ThreadID: th.ID, Role: domain.RoleUser, Content: c})
		require.NoError(t, err)
	}

	hits, err := s.SearchMessages(ctx, th.ID, `say "hi"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "words match in any order and case")
	assert.Equal(t, `The guard should say "hi" first`, hits[0].Content)

	hits, err = s.SearchMessages(ctx, th.ID, "boss OR lava", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "OR is a word, not an operator")
}

func TestSQLiteDeleteLeaves_NoOrphans(t *testing.T) {
	db := testDB(t)
	s := NewSQLiteThreadStore(db)
	ctx := context.Background()

	lead, th, err := s.CreateLeadAgent(ctx, "u1", domain.ProviderOpenAI, "gpt-5.2", "")
	require.NoError(t, err)
	_, sub, err := s.CreateSubAgent(ctx, th.ID, "levelDesigner")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, domain.Message{ThreadID: sub.ID, Role: domain.RoleUser, Content: "task"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAgent(ctx, "u1", lead.ID))

	for _, q := range []string{
		"SELECT COUNT(*) FROM agents",
		"SELECT COUNT(*) FROM threads",
		"SELECT COUNT(*) FROM messages",
		"SELECT COUNT(*) FROM messages_fts WHERE messages_fts MATCH 'task'",
	} {
		var n int
		require.NoError(t, db.sql.QueryRow(q).Scan(&n))
		assert.Zero(t, n, q)
	}
}
