package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/media"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SQLiteStore, *media.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	m, err := media.NewLocalStore(filepath.Join(dir, "media"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(filepath.Join(dir, "modlog.db"), m)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, m
}

func sampleEntry(subject string, action types.Action) *types.LogEntry {
	e := &types.LogEntry{
		Subject:   subject,
		Action:    action,
		Reason:    "spam",
		Operator:  "10001（alice）",
		Group:     "900001（main）",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local),
	}
	if action.RequiresDuration() {
		e.Duration = "30m"
	}
	return e
}

func createN(t *testing.T, s *SQLiteStore, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.Create(context.Background(), sampleEntry("123456（bob）", types.ActionWarn), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func ptr(s string) *string { return &s }

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	entry := sampleEntry("123456（bob）", types.ActionMute)
	id, err := s.Create(ctx, entry, map[int][]byte{1: []byte("evidence")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := s.Get(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, "123456（bob）", got.Subject)
	assert.Equal(t, types.ActionMute, got.Action)
	assert.Equal(t, "30m", got.Duration)
	assert.Equal(t, "900001（main）", got.Group)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))
	require.Len(t, got.Images, 1)
	assert.Equal(t, "1_1.jpg", filepath.Base(got.Images[1]))

	_, err = s.Get(ctx, 99, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSQLiteStore_JournalMode(t *testing.T) {
	s, _ := newTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLiteStore_UpdateFields(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionMute), nil)
	require.NoError(t, err)

	// Switching away from mute clears the duration in the same write
	err = s.UpdateFields(ctx, id, map[types.Field]*string{
		types.FieldAction:   ptr(string(types.ActionKick)),
		types.FieldDuration: nil,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, types.ActionKick, got.Action)
	assert.Empty(t, got.Duration)

	require.NoError(t, s.Update(ctx, id, types.FieldTime, ptr("2023-01-02 03:04:05")))
	got, err = s.Get(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-02 03:04:05", got.Timestamp.Format(types.TimeLayout))

	err = s.Update(ctx, 99, types.FieldReason, ptr("x"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	err = s.Update(ctx, id, types.FieldID, ptr("5"))
	var se *types.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.StorageConstraint, se.Kind)
}

func TestSQLiteStore_DeleteMaxResetsSequence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	createN(t, s, 10)
	for _, id := range []int64{8, 9} {
		require.NoError(t, s.Delete(ctx, id))
	}
	// 7 and 10 remain at the top; removing 10 lowers the counter to 7
	require.NoError(t, s.Delete(ctx, 10))

	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)
}

func TestSQLiteStore_DeleteNonMaxKeepsSequence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	createN(t, s, 5)
	require.NoError(t, s.Delete(ctx, 3))

	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
}

func TestSQLiteStore_DeleteRemovesMedia(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)

	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), map[int][]byte{1: []byte("a"), 2: []byte("b")})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id))

	images, err := m.List(id)
	require.NoError(t, err)
	assert.Empty(t, images)

	assert.ErrorIs(t, s.Delete(ctx, id), types.ErrNotFound)
}

func TestSQLiteStore_Renumber(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)

	createN(t, s, 4)
	_, err := m.Save(4, 1, []byte("img"))
	require.NoError(t, err)

	require.NoError(t, s.Renumber(ctx, 4, 2000))
	_, err = s.Get(ctx, 4, false)
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := s.Get(ctx, 2000, true)
	require.NoError(t, err)
	assert.Len(t, got.Images, 1)

	// Moving the max back down lowers the counter
	require.NoError(t, s.Renumber(ctx, 2000, 4))
	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}

func TestSQLiteStore_RenumberRejects(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	createN(t, s, 5)

	tests := []struct {
		name     string
		old, new int64
		want     error
	}{
		{"same id", 5, 5, types.ErrIDExists},
		{"taken id", 1, 2, types.ErrIDExists},
		{"missing old", 42, 43, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, s.Renumber(ctx, tt.old, tt.new), tt.want)
		})
	}
}

func TestSQLiteStore_RenumberRollsBackOnMediaFailure(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)
	createN(t, s, 5)

	_, err := m.Save(5, 1, []byte("a"))
	require.NoError(t, err)
	_, err = m.Save(5, 2, []byte("b"))
	require.NoError(t, err)

	// A directory squatting on the second target name makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(m.Dir(), "9_2.jpg", "x"), 0755))

	before := snapshotRows(t, s)

	err = s.Renumber(ctx, 5, 9)
	var se *types.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.StorageRollback, se.Kind)

	assert.Equal(t, before, snapshotRows(t, s))
	images, err := m.List(5)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	// The counter was not moved either
	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
}

func TestSQLiteStore_QueryAndCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, e := range []*types.LogEntry{
		sampleEntry("123456（bob）", types.ActionMute),
		sampleEntry("1234567（carol）", types.ActionKick),
		sampleEntry("654321（dave）", types.ActionWarn),
	} {
		_, err := s.Create(ctx, e, nil)
		require.NoError(t, err)
	}

	got, err := s.Query(ctx, types.FieldSubject, "123456", types.MatchPrefix, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)

	got, err = s.Query(ctx, types.FieldSubject, "dave", types.MatchContains, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)

	got, err = s.Query(ctx, types.FieldAction, "kick", types.MatchExact, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Query(ctx, types.FieldSubject, "123456", types.MatchPrefix, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err := s.Count(ctx, types.FieldGroup, "900001", types.MatchPrefix)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Query(ctx, types.FieldImage, "x", types.MatchExact, 10)
	assert.Error(t, err)
}

func TestSQLiteStore_CountAndRisk(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	style, err := config.ParseStyle("risk", []byte(`
risk_weights:
  warn:
    normal: 0.5
  mute:
    normal: 1
    occurrences:
      2: 3
  kick:
    normal: 2
`))
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	for i, a := range []types.Action{types.ActionWarn, types.ActionMute, types.ActionMute, types.ActionKick, types.ActionMute} {
		e := sampleEntry("123456（bob）", a)
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		_, err := s.Create(ctx, e, nil)
		require.NoError(t, err)
	}
	// A different subject sharing the prefix is not counted
	_, err = s.Create(ctx, sampleEntry("1234567（carol）", types.ActionBan), nil)
	require.NoError(t, err)

	summary, err := s.CountAndRisk(ctx, "123456", style)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Count)
	// warn 0.5 + mute 1 + mute#2 3 + kick 2 + mute 1
	assert.InDelta(t, 7.5, summary.Risk, 1e-9)
	assert.Equal(t, types.StateKicked, summary.State)

	summary, err = s.CountAndRisk(ctx, "1234567", style)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, types.StateBanned, summary.State)

	summary, err = s.CountAndRisk(ctx, "999999", style)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Count)
	assert.Equal(t, types.StateAlive, summary.State)
}

func TestSQLiteStore_CountAndRiskUsesHistoryPosition(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	style, err := config.ParseStyle("risk", []byte(`
risk_weights:
  mute:
    normal: 1
    occurrences:
      2: 3
  kick:
    normal: 2
`))
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	for i, a := range []types.Action{types.ActionKick, types.ActionMute} {
		e := sampleEntry("123456（bob）", a)
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		_, err := s.Create(ctx, e, nil)
		require.NoError(t, err)
	}

	summary, err := s.CountAndRisk(ctx, "123456", style)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	// kick 2 + the first mute is the second record, so it takes the override
	assert.InDelta(t, 5.0, summary.Risk, 1e-9)
}

func TestSQLiteStore_NthID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.NthID(ctx, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)

	createN(t, s, 5)

	tests := []struct {
		n    int
		want int64
	}{
		{0, 5}, {1, 5}, {2, 4}, {5, 1}, {-1, 1}, {-2, 2}, {-5, 5},
	}
	for _, tt := range tests {
		id, err := s.NthID(ctx, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, id, "n=%d", tt.n)
	}

	_, err = s.NthID(ctx, 6)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.NthID(ctx, -6)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSQLiteStore_OnlineBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)

	createN(t, s, 3)
	_, err := m.Save(2, 1, []byte("img"))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "snap.db")
	n, err := s.OnlineBackup(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Refuses to overwrite
	_, err = s.OnlineBackup(ctx, target)
	assert.Error(t, err)

	before := snapshotRows(t, s)

	// Diverge, then restore
	require.NoError(t, s.Delete(ctx, 1))
	createN(t, s, 4)

	restoredMedia := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.MkdirAll(restoredMedia, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(restoredMedia, "2_1.jpg"), []byte("img"), 0644))

	restored, err := s.RestoreFrom(ctx, target, restoredMedia)
	require.NoError(t, err)
	assert.Equal(t, 3, restored)
	assert.Equal(t, before, snapshotRows(t, s))

	images, err := m.List(2)
	require.NoError(t, err)
	assert.Len(t, images, 1)

	// The counter continues from the snapshot
	id, err := s.Create(ctx, sampleEntry("123456（bob）", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func TestSQLiteStore_OnlineBackupUnderLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	createN(t, s, 20)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := s.Create(ctx, sampleEntry("654321（dave）", types.ActionWarn), nil); err != nil {
				t.Errorf("concurrent create: %v", err)
				return
			}
		}
	}()

	target := filepath.Join(t.TempDir(), "snap.db")
	n, err := s.OnlineBackup(ctx, target)
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 20)

	// The snapshot is a prefix of the live id sequence
	restoreInto, _ := newTestStore(t)
	restored, err := restoreInto.RestoreFrom(ctx, target, "")
	require.NoError(t, err)
	assert.Equal(t, n, restored)

	ids := snapshotIDs(t, restoreInto)
	for i, id := range ids {
		assert.Equal(t, int64(i+1), id)
	}
}

func TestVerifySnapshot_Rejects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not sqlite"), 0644))
	_, err := VerifySnapshot(ctx, garbage)
	assert.Error(t, err)

	_, err = VerifySnapshot(ctx, filepath.Join(dir, "missing.db"))
	assert.Error(t, err)
}

// snapshotRows renders all rows for equality checks
func snapshotRows(t *testing.T, s *SQLiteStore) []string {
	t.Helper()
	rows, err := s.db.Query(`SELECT ` + logColumns + ` FROM logs ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		e, err := scanEntry(rows)
		require.NoError(t, err)
		out = append(out, e.Value(types.FieldID)+"|"+e.Subject+"|"+string(e.Action)+"|"+e.Reason+"|"+
			e.Operator+"|"+e.Duration+"|"+e.Group+"|"+e.Value(types.FieldTime))
	}
	require.NoError(t, rows.Err())
	return out
}

func snapshotIDs(t *testing.T, s *SQLiteStore) []int64 {
	t.Helper()
	rows, err := s.db.Query(`SELECT id FROM logs`)
	require.NoError(t, err)
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestSQLiteStore_ImportKeepsIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := sampleEntry("123456（bob）", types.ActionMute)
	a.ID = 3
	b := sampleEntry("654321（eve）", types.ActionBan)
	b.ID = 9

	n, err := s.Import(ctx, []*types.LogEntry{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Get(ctx, 9, false)
	require.NoError(t, err)
	assert.Equal(t, types.ActionBan, got.Action)

	id, err := s.Create(ctx, sampleEntry("111111", types.ActionWarn), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
}

func TestSQLiteStore_ImportDuplicateWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	createN(t, s, 2)

	a := sampleEntry("123456", types.ActionWarn)
	a.ID = 5
	dup := sampleEntry("123456", types.ActionWarn)
	dup.ID = 2

	_, err := s.Import(ctx, []*types.LogEntry{a, dup})
	require.Error(t, err)

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
