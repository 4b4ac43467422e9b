package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/storage"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(t *testing.T) *storage.BoltStore {
	t.Helper()
	state, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })
	return state
}

func TestDailyExpression(t *testing.T) {
	expr, err := DailyExpression("04:30")
	require.NoError(t, err)
	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 2, 4, 30, 0, 0, time.UTC), expr.Next(from))

	for _, bad := range []string{"", "25:00", "4pm", "04:61"} {
		_, err := DailyExpression(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduler_Run(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db"), entries: 4})
	state := newState(t)
	s, err := NewScheduler(a, state, Config{Time: "04:00", Limit: 2})
	require.NoError(t, err)

	for _, name := range []string{"one", "two", "three"} {
		res, err := s.Run(context.Background(), types.TriggerManual, name)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Entries)
		assert.Equal(t, name+".zip", res.Record.Name)
	}

	n, err := a.ArchiveCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	history, err := state.History(0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, found, err := state.LastBackup()
	require.NoError(t, err)
	assert.True(t, found)
}

func TestScheduler_RunRecordsFailure(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{err: &types.BackupVerificationError{Path: "x"}})
	state := newState(t)
	s, err := NewScheduler(a, state, Config{Time: "04:00"})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), types.TriggerManual, "")
	require.Error(t, err)

	history, err := state.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Succeeded())

	_, found, err := state.LastBackup()
	require.NoError(t, err)
	assert.False(t, found, "failed backups do not count as the last backup")
}

func TestScheduler_RunRejectsConcurrent(t *testing.T) {
	snap := &fakeSnapshotter{data: []byte("db"), gate: make(chan struct{})}
	a, _ := newArchiver(t, snap)
	s, err := NewScheduler(a, newState(t), Config{Time: "04:00"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), types.TriggerManual, "slow")
		done <- err
	}()
	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	_, err = s.Run(context.Background(), types.TriggerManual, "fast")
	assert.ErrorIs(t, err, types.ErrBackupRunning)

	close(snap.gate)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
}

func TestScheduler_Due(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 4, 0, 0, 0, time.UTC))
	state := newState(t)
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
	s, err := NewScheduler(a, state, Config{Time: "04:00", DelayDays: 3}, WithClock(clock))
	require.NoError(t, err)

	due, err := s.Due()
	require.NoError(t, err)
	assert.True(t, due, "never backed up")

	require.NoError(t, state.RecordBackup(types.BackupRecord{
		Name: "x.zip", Trigger: types.TriggerManual, At: clock.Now().Add(-48 * time.Hour),
	}))
	due, err = s.Due()
	require.NoError(t, err)
	assert.False(t, due)

	clock.Advance(24 * time.Hour)
	due, err = s.Due()
	require.NoError(t, err)
	assert.True(t, due)
}

func TestScheduler_SetEnabledPersists(t *testing.T) {
	state := newState(t)
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})

	s, err := NewScheduler(a, state, Config{Time: "04:00", Auto: true})
	require.NoError(t, err)
	assert.True(t, s.Enabled())
	require.NoError(t, s.SetEnabled(false))

	again, err := NewScheduler(a, state, Config{Time: "04:00", Auto: true})
	require.NoError(t, err)
	assert.False(t, again.Enabled(), "persisted switch wins over config")

	status, err := again.Status()
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.False(t, status.HasLast)
	assert.Equal(t, 1, status.DelayDays)
}

func TestScheduler_ScheduledTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 3, 59, 0, 0, time.UTC))
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db"), entries: 1})

	results := make(chan error, 1)
	notify := func(ctx context.Context, res *Result, err error) { results <- err }

	s, err := NewScheduler(a, newState(t), Config{Time: "04:00", Auto: true},
		WithClock(clock), WithNotifier(notify))
	require.NoError(t, err)
	s.Start()
	defer s.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	select {
	case err := <-results:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("scheduled backup did not run")
	}

	n, err := a.ArchiveCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScheduler_DefaultNameFollowsClock(t *testing.T) {
	at := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(at)
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db"), entries: 1})
	s, err := NewScheduler(a, newState(t), Config{Time: "04:00"}, WithClock(clock))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), types.TriggerScheduled, "")
	require.NoError(t, err)
	assert.Equal(t, "20210304_050607.zip", res.Archive.Name)
	assert.Equal(t, res.Archive.Name, res.Record.Name)
	assert.True(t, at.Equal(res.Record.At))
}

func TestScheduler_TickSkipsWhenDisabled(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
	called := false
	s, err := NewScheduler(a, newState(t), Config{Time: "04:00", Auto: false},
		WithNotifier(func(context.Context, *Result, error) { called = true }))
	require.NoError(t, err)

	s.tick()
	assert.False(t, called)
	n, err := a.ArchiveCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}
