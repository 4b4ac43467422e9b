package backup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/cuemby/modlog/pkg/storage"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/gorhill/cronexpr"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Config controls the daily backup
type Config struct {
	Time      string // "HH:MM", local time
	DelayDays int    // minimum days between scheduled backups
	Limit     int    // archives kept after each backup
	Auto      bool   // initial switch, overridden by the persisted one
}

// Status summarizes the scheduler for operators
type Status struct {
	Enabled   bool
	Time      string
	DelayDays int
	Limit     int
	Last      time.Time
	HasLast   bool
	Running   bool
}

// Result is the outcome of one backup run
type Result struct {
	Archive *types.BackupArchive
	Entries int
	Pruned  []string
	Record  types.BackupRecord
}

// Notifier receives the result of every scheduled run
type Notifier func(ctx context.Context, res *Result, err error)

// Scheduler runs the daily backup and serves on-demand ones. At most one
// backup runs at a time; a request that arrives while one is running is
// rejected with types.ErrBackupRunning.
type Scheduler struct {
	archiver *Archiver
	state    storage.StateStore
	cfg      Config
	expr     *cronexpr.Expression
	clock    clockwork.Clock
	notify   Notifier
	logger   zerolog.Logger

	running atomic.Bool
	enabled atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithNotifier sets the callback for scheduled runs
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notify = n }
}

// NewScheduler creates a scheduler. The persisted auto switch, when
// present, wins over cfg.Auto.
func NewScheduler(archiver *Archiver, state storage.StateStore, cfg Config, opts ...Option) (*Scheduler, error) {
	expr, err := DailyExpression(cfg.Time)
	if err != nil {
		return nil, err
	}
	if cfg.DelayDays < 1 {
		cfg.DelayDays = 1
	}
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}

	s := &Scheduler{
		archiver: archiver,
		state:    state,
		cfg:      cfg,
		expr:     expr,
		clock:    clockwork.NewRealClock(),
		logger:   log.WithComponent("backup"),
	}
	for _, opt := range opts {
		opt(s)
	}

	enabled := cfg.Auto
	if persisted, set, err := state.AutoBackup(); err != nil {
		return nil, fmt.Errorf("failed to read auto backup switch: %w", err)
	} else if set {
		enabled = persisted
	}
	s.enabled.Store(enabled)
	return s, nil
}

// DailyExpression converts "HH:MM" to a cron expression firing once a day
func DailyExpression(hhmm string) (*cronexpr.Expression, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return nil, fmt.Errorf("invalid backup time %q: %w", hhmm, err)
	}
	return cronexpr.Parse(fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()))
}

// Start runs the schedule loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)

	metrics.RegisterComponent("backup", true, "scheduled")
	s.logger.Info().
		Str("time", s.cfg.Time).
		Int("delay_days", s.cfg.DelayDays).
		Int("limit", s.cfg.Limit).
		Bool("enabled", s.enabled.Load()).
		Msg("Backup scheduler started")
}

// Stop ends the loop and waits up to timeout for it. A backup already
// running is allowed to finish in the background.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-doneCh:
		s.logger.Info().Msg("Backup scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("backup scheduler did not stop within %s", timeout)
	}
}

func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		now := s.clock.Now()
		next := s.expr.Next(now)
		if next.IsZero() {
			s.logger.Error().Msg("Backup schedule has no next run")
			return
		}
		timer := s.clock.NewTimer(next.Sub(now))

		select {
		case <-timer.Chan():
			s.tick()
		case <-stopCh:
			timer.Stop()
			return
		}
	}
}

// tick runs a scheduled backup when it is due. Failures are logged and
// reported; they never end the loop.
func (s *Scheduler) tick() {
	if !s.enabled.Load() {
		return
	}
	due, err := s.Due()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read last backup time")
		return
	}
	if !due {
		s.logger.Debug().Msg("Scheduled backup not due yet")
		return
	}

	ctx := context.Background()
	res, err := s.Run(ctx, types.TriggerScheduled, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled backup failed")
		metrics.UpdateComponent("backup", false, err.Error())
	} else {
		metrics.UpdateComponent("backup", true, "last "+res.Archive.Name)
	}
	if s.notify != nil {
		s.notify(ctx, res, err)
	}
}

// Due reports whether a scheduled backup should run now
func (s *Scheduler) Due() (bool, error) {
	last, found, err := s.state.LastBackup()
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	elapsed := s.clock.Now().Sub(last)
	return elapsed >= time.Duration(s.cfg.DelayDays)*24*time.Hour, nil
}

// Run makes one backup now, prunes old archives and records the attempt.
// An empty name is taken from the scheduler clock. It returns types.ErrBackupRunning when another backup is in progress.
func (s *Scheduler) Run(ctx context.Context, trigger types.BackupTrigger, name string) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.BackupsTotal.WithLabelValues(string(trigger), "rejected").Inc()
		return nil, types.ErrBackupRunning
	}
	defer s.running.Store(false)

	timer := metrics.NewTimer()
	rec := types.BackupRecord{Trigger: trigger, At: s.clock.Now()}
	if name == "" {
		name = rec.At.Format(NameLayout)
	}
	res, err := s.run1(ctx, name)
	timer.ObserveDuration(metrics.BackupDuration)

	if err != nil {
		rec.Error = err.Error()
		metrics.BackupsTotal.WithLabelValues(string(trigger), metrics.ResultFailure).Inc()
	} else {
		rec.Name, rec.Entries, rec.Size = res.Archive.Name, res.Entries, res.Archive.Size
		metrics.BackupsTotal.WithLabelValues(string(trigger), metrics.ResultSuccess).Inc()
	}
	if rerr := s.state.RecordBackup(rec); rerr != nil {
		s.logger.Error().Err(rerr).Msg("Failed to record backup")
	}
	if err != nil {
		return nil, err
	}
	res.Record = rec

	if n, cerr := s.archiver.ArchiveCount(); cerr == nil {
		metrics.BackupArchives.Set(float64(n))
	}
	logger := log.WithArchive(res.Archive.Name)
	logger.Info().
		Str("trigger", string(trigger)).
		Int("entries", res.Entries).
		Int64("size", res.Archive.Size).
		Strs("pruned", res.Pruned).
		Dur("took", timer.Duration()).
		Msg("Backup created")
	return res, nil
}

func (s *Scheduler) run1(ctx context.Context, name string) (*Result, error) {
	archive, entries, err := s.archiver.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	pruned, err := s.archiver.Prune(s.cfg.Limit)
	if err != nil {
		// The new archive exists; retention catches up on the next run
		s.logger.Warn().Err(err).Msg("Failed to prune old backups")
	}
	return &Result{Archive: archive, Entries: entries, Pruned: pruned}, nil
}

// Running reports whether a backup is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Enabled reports whether scheduled backups run
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled switches scheduled backups on or off and persists the choice
func (s *Scheduler) SetEnabled(on bool) error {
	if err := s.state.SetAutoBackup(on); err != nil {
		return fmt.Errorf("failed to persist auto backup switch: %w", err)
	}
	s.enabled.Store(on)
	s.logger.Info().Bool("enabled", on).Msg("Auto backup switched")
	return nil
}

// Status returns the current schedule and the last successful backup
func (s *Scheduler) Status() (Status, error) {
	last, found, err := s.state.LastBackup()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Enabled:   s.enabled.Load(),
		Time:      s.cfg.Time,
		DelayDays: s.cfg.DelayDays,
		Limit:     s.cfg.Limit,
		Last:      last,
		HasLast:   found,
		Running:   s.running.Load(),
	}, nil
}

// Archiver returns the archiver the scheduler writes with
func (s *Scheduler) Archiver() *Archiver {
	return s.archiver
}
