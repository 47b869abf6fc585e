package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "finx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAccount_NormalizesAndDedupes(t *testing.T) {
	s := newTestStore(t)

	added, err := s.RegisterAccount(" @Trader ", "")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.RegisterAccount("trader", "")
	require.NoError(t, err)
	assert.False(t, added, "same handle after normalization")

	handles, err := s.ListTrackedAccountHandles()
	require.NoError(t, err)
	assert.Equal(t, []string{"trader"}, handles)
}

func TestDeregisterAccount_RemovesCursorToo(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterAccount("trader", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor(SyncCursor{Handle: "trader", LastItemID: "100"}))

	removed, err := s.DeregisterAccount("@Trader")
	require.NoError(t, err)
	assert.True(t, removed)

	cur, err := s.Cursor("trader")
	require.NoError(t, err)
	assert.Nil(t, cur)

	removed, err = s.DeregisterAccount("trader")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSetDisplayName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterAccount("trader", "")
	require.NoError(t, err)
	require.NoError(t, s.SetDisplayName("@Trader", "The Trader"))

	accounts, err := s.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "The Trader", accounts[0].DisplayName)
}

func TestCursor_MissingIsNilNotError(t *testing.T) {
	s := newTestStore(t)
	cur, err := s.Cursor("nobody")
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestSaveCursor_EmptyFieldsDoNotRegress(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RegisterAccount("trader", "")
	require.NoError(t, err)

	fetched := time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveCursor(SyncCursor{
		Handle:        "trader",
		LastItemID:    "100",
		LastFetchTime: fetched,
		LastDigestID:  3,
	}))

	// A later save with only a fetch time must keep the id and digest
	// columns intact.
	later := fetched.Add(time.Hour)
	require.NoError(t, s.SaveCursor(SyncCursor{Handle: "trader", LastFetchTime: later}))

	cur, err := s.Cursor("trader")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "100", cur.LastItemID)
	assert.Equal(t, int64(3), cur.LastDigestID)
	assert.True(t, cur.LastFetchTime.Equal(later))
}

func TestNormalizeItemIDs(t *testing.T) {
	got := NormalizeItemIDs([]string{"30", "105", "", "9", "105"})
	assert.Equal(t, []string{"105", "30", "9"}, got, "lexicographic sort, empties and dupes dropped")

	assert.Empty(t, NormalizeItemIDs(nil))
}

func TestUpsertDigest_IdempotentOnItemSet(t *testing.T) {
	s := newTestStore(t)

	first := time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC)
	id, err := s.UpsertDigest("v1 body", []string{"101", "100"}, first)
	require.NoError(t, err)

	// Same set in a different order, with duplicates, an hour later.
	again, err := s.UpsertDigest("v2 body", []string{"100", "101", "100"}, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, again, "identical id sets collapse to one row")

	digests, err := s.Digests(10, 0)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.Equal(t, "v2 body", digests[0].Body)
	assert.True(t, digests[0].GeneratedAt.Equal(first), "original generated_at is preserved")
	assert.Equal(t, []string{"100", "101"}, digests[0].ItemIDs)
}

func TestUpsertDigest_DistinctSetsGetDistinctRows(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC)

	a, err := s.UpsertDigest("a", []string{"1"}, now)
	require.NoError(t, err)
	b, err := s.UpsertDigest("b", []string{"1", "2"}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	latest, err := s.LatestDigest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, b, latest.ID)
}

func TestLatestDigest_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	latest, err := s.LatestDigest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRemoveDuplicateDigests(t *testing.T) {
	s := newTestStore(t)

	// Seed duplicate rows directly, bypassing the upsert path.
	for i := 0; i < 3; i++ {
		_, err := s.db.Exec(`INSERT INTO digests (generated_at, body, item_ids) VALUES (?, ?, ?)`,
			time.Now().UTC().Format(time.RFC3339Nano), "body", `["1","2"]`)
		require.NoError(t, err)
	}

	removed, err := s.RemoveDuplicateDigests()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	digests, err := s.Digests(10, 0)
	require.NoError(t, err)
	assert.Len(t, digests, 1)
}

func TestRunRecords_AppendAndListNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2025, 12, 2, 15, 0, 0, 0, time.UTC)
	_, err := s.AppendRunRecord(RunRecord{At: base, TriggerKind: "trading-hours", Status: StatusSuccess, ItemsFetched: 4, DigestProduced: true})
	require.NoError(t, err)
	_, err = s.AppendRunRecord(RunRecord{At: base.Add(time.Minute), TriggerKind: "manual", Status: StatusError, Error: "boom", RetryCount: 3})
	require.NoError(t, err)

	records, err := s.RunRecords(10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "manual", records[0].TriggerKind)
	assert.Equal(t, StatusError, records[0].Status)
	assert.Equal(t, "boom", records[0].Error)
	assert.Equal(t, 3, records[0].RetryCount)
	assert.Equal(t, "trading-hours", records[1].TriggerKind)
	assert.True(t, records[1].DigestProduced)
	assert.Equal(t, 4, records[1].ItemsFetched)
}

func TestPaused_DefaultsFalseAndRoundTrips(t *testing.T) {
	s := newTestStore(t)

	paused, err := s.Paused()
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.SetPaused(true))
	paused, err = s.Paused()
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, s.SetPaused(false))
	paused, err = s.Paused()
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finx.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.RegisterAccount("trader", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	handles, err := s.ListTrackedAccountHandles()
	require.NoError(t, err)
	assert.Equal(t, []string{"trader"}, handles)
}
