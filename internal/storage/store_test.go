package storage

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// newTestStore opens a fresh, isolated in-memory SQLite database and
// migrates it, the same convention the pack itself uses for GORM+SQLite
// unit tests (BaSui01-agentflow/llm/apikey_pool_test.go). Each call gets
// its own private database since the DSN omits cache=shared.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: NewGormLogger(ilog.NewNop()),
	})
	require.NoError(t, err)

	s := &Store{db: db, prefix: "test_", log: ilog.NewNop()}
	require.NoError(t, s.migrate())
	return s
}

func TestStore_LoadBeforeAnySaveReturnsZeroRecord(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	assert.Nil(t, rec.ActiveTabID)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	tab := model.TabHandle(42)
	sid := model.SessionID("sess-1")

	require.NoError(t, s.Save(model.SessionRecord{
		ActiveTabID: &tab,
		SessionID:   &sid,
		IsActive:    true,
	}))

	rec, err := s.Load()
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	require.NotNil(t, rec.ActiveTabID)
	assert.Equal(t, tab, *rec.ActiveTabID)
	require.NotNil(t, rec.SessionID)
	assert.Equal(t, sid, *rec.SessionID)
}

func TestStore_MarkInactiveRetainsActiveTabID(t *testing.T) {
	s := newTestStore(t)
	tab := model.TabHandle(7)
	sid := model.SessionID("sess-1")
	require.NoError(t, s.Save(model.SessionRecord{ActiveTabID: &tab, SessionID: &sid, IsActive: true}))

	require.NoError(t, s.MarkInactive(&sid))

	rec, err := s.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	require.NotNil(t, rec.ActiveTabID, "MarkInactive must not clear the persisted tab id")
	assert.Equal(t, tab, *rec.ActiveTabID)
}

func TestStore_MarkInactiveOnFreshInstallCreatesInactiveRow(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkInactive(nil))

	rec, err := s.Load()
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
}

func TestStore_AppendActionTrimsToMaxActionLog(t *testing.T) {
	s := newTestStore(t)
	sid := model.SessionID("sess-1")

	for i := 1; i <= model.MaxActionLog+10; i++ {
		require.NoError(t, s.AppendAction(sid, model.ActionRecord{
			Step: i, Kind: "click", Selector: "#a", Success: true, At: time.Now(),
		}))
	}

	recent, err := s.RecentActions(sid)
	require.NoError(t, err)
	assert.Len(t, recent, model.MaxActionLog)
	// Newest-first retention means the surviving rows are the most recent
	// steps, returned oldest first.
	assert.Equal(t, model.MaxActionLog+10, recent[len(recent)-1].Step)
}

func TestStore_RecentActionsIsolatedBySession(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendAction(model.SessionID("a"), model.ActionRecord{Step: 1, Kind: "click", At: time.Now()}))
	require.NoError(t, s.AppendAction(model.SessionID("b"), model.ActionRecord{Step: 1, Kind: "type", At: time.Now()}))

	aActions, err := s.RecentActions(model.SessionID("a"))
	require.NoError(t, err)
	assert.Len(t, aActions, 1)
	assert.Equal(t, "click", aActions[0].Kind)
}
