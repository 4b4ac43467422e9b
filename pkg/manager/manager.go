package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/modlog/pkg/backup"
	"github.com/cuemby/modlog/pkg/bridge"
	"github.com/cuemby/modlog/pkg/chat"
	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/conflict"
	"github.com/cuemby/modlog/pkg/events"
	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/media"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/cuemby/modlog/pkg/storage"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/cuemby/modlog/pkg/validation"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds Shutdown when ctx has no deadline
const DefaultShutdownTimeout = 5 * time.Second

// Config holds what a Manager is built from
type Config struct {
	App    *config.Config
	Styles *config.Provider
	Client chat.Client

	// Clock drives validation and the backup schedule; nil uses the wall clock
	Clock clockwork.Clock

	// CollectInterval is the gauge sampling period; zero uses the default
	CollectInterval time.Duration
}

// Manager owns the log store, the mutation worker, the conflict cache and
// the backup scheduler, and exposes the operations front-ends use. Reads go
// straight to the store; every write goes through the worker.
type Manager struct {
	app    *config.Config
	styles *config.Provider
	client chat.Client
	clock  clockwork.Clock

	media     *media.LocalStore
	store     storage.LogStore
	state     storage.StateStore
	cache     *conflict.Cache
	bridge    *bridge.Bridge
	archiver  *backup.Archiver
	scheduler *backup.Scheduler
	broker    *events.Broker
	collector *metrics.Collector

	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
	logger       zerolog.Logger
}

// New opens the stores and wires the components. Call Start to run the
// worker and the schedule.
func New(cfg Config) (*Manager, error) {
	if cfg.App == nil || cfg.Styles == nil {
		return nil, errors.New("manager needs an app config and a style provider")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	m := &Manager{
		app:    cfg.App,
		styles: cfg.Styles,
		client: cfg.Client,
		clock:  clock,
		cache:  conflict.New(cfg.App.Conflict.Capacity, cfg.App.Conflict.Window),
		broker: events.NewBroker(),
		logger: log.WithComponent("manager"),
	}

	var err error
	if m.media, err = media.NewLocalStore(cfg.App.MediaDir); err != nil {
		return nil, err
	}
	sqlite, err := storage.NewSQLiteStore(cfg.App.DBPath, m.media)
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}
	m.store = sqlite

	if m.state, err = storage.NewBoltStore(cfg.App.Backup.StateDB); err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if m.archiver, err = backup.NewArchiver(sqlite, cfg.App.BackupDir, m.media.Dir(), filepath.Base(sqlite.Path())); err != nil {
		m.closeStores()
		return nil, err
	}
	m.scheduler, err = backup.NewScheduler(m.archiver, m.state, backup.Config{
		Time:      cfg.App.Backup.Time,
		DelayDays: cfg.App.Backup.DelayDays,
		Limit:     cfg.App.Backup.Limit,
		Auto:      cfg.App.Backup.AutoEnabled(),
	}, backup.WithClock(clock), backup.WithNotifier(m.notifyBackup))
	if err != nil {
		m.closeStores()
		return nil, err
	}

	m.bridge = bridge.New(bridge.ApplierFunc(m.Apply), bridge.Config{
		Budget:       cfg.App.Bridge.Budget,
		PollInterval: cfg.App.Bridge.PollInterval,
		QueueSize:    cfg.App.Bridge.QueueSize,
	})
	m.collector = metrics.NewCollector(gaugeSource{m}, cfg.CollectInterval)

	m.styles.OnChange(func(s *config.Style) {
		m.broker.Publish(&events.Event{
			Type:     events.EventStyleReloaded,
			Message:  "style " + s.Name + " loaded",
			Metadata: map[string]string{"style": s.Name},
		})
	})
	return m, nil
}

// Start runs the event broker, the mutation worker, the backup schedule and
// the gauge collector
func (m *Manager) Start() {
	m.started = true
	metrics.RegisterComponent("store", true, m.store.Path())
	m.broker.Start()
	m.bridge.Start()
	m.scheduler.Start()
	m.collector.Start()
	m.logger.Info().
		Str("db", m.store.Path()).
		Str("media", m.media.Dir()).
		Str("backups", m.archiver.Dir()).
		Msg("Manager started")
}

// Shutdown stops the schedule and the worker, answers requests still
// waiting, and closes the stores. If the worker misses the deadline the
// stores are closed when its current mutation returns. The worker and scheduler are each given
// until ctx's deadline to finish. Later calls return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() { m.shutdownErr = m.shutdown(ctx) })
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	if !m.started {
		return m.closeStores()
	}
	timeout := DefaultShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error
	if err := m.scheduler.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := m.bridge.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	m.collector.Stop()
	m.broker.Stop()

	select {
	case <-m.bridge.Done():
		if err := m.closeStores(); err != nil {
			errs = append(errs, err)
		}
		metrics.UpdateComponent("store", false, "closed")
	default:
		// The worker still owns the store; close it once the mutation returns
		m.logger.Warn().Msg("Mutation still in flight, closing stores when it returns")
		go func() {
			<-m.bridge.Done()
			if err := m.closeStores(); err != nil {
				m.logger.Error().Err(err).Msg("Failed to close stores")
			}
			metrics.UpdateComponent("store", false, "closed")
		}()
	}

	m.logger.Info().Msg("Manager stopped")
	return errors.Join(errs...)
}

func (m *Manager) closeStores() error {
	var errs []error
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	if m.state != nil {
		errs = append(errs, m.state.Close())
	}
	return errors.Join(errs...)
}

// Style returns the current style
func (m *Manager) Style() *config.Style {
	return m.styles.Current()
}

// Styles returns the style provider
func (m *Manager) Styles() *config.Provider {
	return m.styles
}

// Events returns the broker mutations and backups are published on
func (m *Manager) Events() *events.Broker {
	return m.broker
}

// Scheduler returns the backup scheduler
func (m *Manager) Scheduler() *backup.Scheduler {
	return m.scheduler
}

// Engine returns a validation engine bound to style, or to the current
// style when style is nil
func (m *Manager) Engine(style *config.Style) *validation.Engine {
	if style == nil {
		style = m.styles.Current()
	}
	return validation.New(style, m.client,
		validation.WithAdminGroup(m.app.AdminGroup),
		validation.WithClock(m.clock))
}

// ValidateAndStage turns raw add fields into a mutation ready to submit,
// validating against style (nil for the current one)
func (m *Manager) ValidateAndStage(ctx context.Context, style *config.Style, raw validation.RawFields, caller string) (*types.Mutation, error) {
	mut, err := m.Engine(style).StageAdd(ctx, raw, caller)
	return mut, countRejection(err)
}

// StageEdit loads the current record and turns an edit request into a
// mutation ready to submit, validating against style (nil for the current one)
func (m *Manager) StageEdit(ctx context.Context, style *config.Style, req validation.EditRequest) (*types.Mutation, error) {
	current, err := m.store.Get(ctx, req.ID, false)
	if err != nil {
		return nil, err
	}
	mut, err := m.Engine(style).StageEdit(ctx, current, req)
	return mut, countRejection(err)
}

func countRejection(err error) error {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		metrics.ValidationRejections.WithLabelValues(string(ve.Field)).Inc()
	}
	return err
}

// SubmitMutation hands mut to the worker and waits for its outcome
func (m *Manager) SubmitMutation(ctx context.Context, mut *types.Mutation, caller string) (*types.Outcome, error) {
	return m.bridge.Submit(ctx, caller, mut)
}

// QueryByID returns one record with its media paths
func (m *Manager) QueryByID(ctx context.Context, id int64) (*types.LogEntry, error) {
	return m.store.Get(ctx, id, true)
}

// QueryByField returns up to limit records, newest first, with their media
// paths
func (m *Manager) QueryByField(ctx context.Context, field types.Field, value string, mode types.MatchMode, limit int) ([]*types.LogEntry, error) {
	return m.store.Query(ctx, field, value, mode, limit)
}

// Count returns the number of records a query would match without a limit
func (m *Manager) Count(ctx context.Context, field types.Field, value string, mode types.MatchMode) (int, error) {
	return m.store.Count(ctx, field, value, mode)
}

// CountAndRisk summarizes a subject's history under the current style
func (m *Manager) CountAndRisk(ctx context.Context, subjectID string) (*types.RiskSummary, error) {
	return m.store.CountAndRisk(ctx, subjectID, m.styles.Current())
}

// NthID resolves a position: n>0 the n-th newest, n<0 the |n|-th oldest,
// 0 the newest
func (m *Manager) NthID(ctx context.Context, n int) (int64, error) {
	return m.store.NthID(ctx, n)
}

// Ping checks that the log store answers
func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.store.Total(ctx)
	return err
}

// TriggerBackup makes a backup now. It fails with types.ErrBackupRunning
// while another backup is in progress.
func (m *Manager) TriggerBackup(ctx context.Context, name string) (*types.BackupArchive, error) {
	res, err := m.scheduler.Run(ctx, types.TriggerManual, name)
	m.publishBackup(types.TriggerManual, res, err)
	if err != nil {
		return nil, err
	}
	return res.Archive, nil
}

// ListBackups returns the archives oldest first
func (m *Manager) ListBackups() ([]types.BackupArchive, error) {
	return m.archiver.List()
}

// RestoreBackup replaces every record and the media directory with the
// contents of an archive. It runs on the mutation worker, after a
// pre-restore backup of the current state, and returns the number of
// records restored.
func (m *Manager) RestoreBackup(ctx context.Context, name, caller string) (int, error) {
	out, err := m.bridge.Submit(ctx, caller, &types.Mutation{Kind: types.MutationRestore, Archive: name})
	if err != nil {
		return 0, err
	}
	return out.Restored, nil
}

// DeleteBackup removes one archive
func (m *Manager) DeleteBackup(name string) error {
	if err := m.archiver.Delete(name); err != nil {
		return err
	}
	m.broker.Publish(&events.Event{
		Type:     events.EventBackupDeleted,
		Message:  "backup " + name + " deleted",
		Metadata: map[string]string{"archive": name},
	})
	if n, err := m.archiver.ArchiveCount(); err == nil {
		metrics.BackupArchives.Set(float64(n))
	}
	return nil
}

// notifyBackup tells the admin group about scheduled backups
func (m *Manager) notifyBackup(ctx context.Context, res *backup.Result, err error) {
	m.publishBackup(types.TriggerScheduled, res, err)
	if m.client == nil || m.app.AdminGroup == "" {
		return
	}

	style := m.styles.Current()
	var text string
	if err != nil {
		text = style.Render("backup_notice_failed", map[string]any{"detail": err.Error()})
	} else {
		text = style.Render("backup_notice", map[string]any{"name": res.Archive.Name, "entries": res.Entries})
	}
	if serr := m.client.SendNotification(ctx, m.app.AdminGroup, text); serr != nil {
		m.logger.Warn().Err(serr).Msg("Failed to send backup notice")
	}
}

func (m *Manager) publishBackup(trigger types.BackupTrigger, res *backup.Result, err error) {
	if err != nil {
		if errors.Is(err, types.ErrBackupRunning) {
			return
		}
		m.broker.Publish(&events.Event{
			Type:     events.EventBackupFailed,
			Message:  "backup failed",
			Metadata: map[string]string{"trigger": string(trigger), "error": err.Error()},
		})
		return
	}
	m.broker.Publish(&events.Event{
		Type:    events.EventBackupCreated,
		Message: "backup " + res.Archive.Name + " created",
		Metadata: map[string]string{
			"archive": res.Archive.Name,
			"trigger": string(trigger),
			"entries": fmt.Sprint(res.Entries),
		},
	})
}

// gaugeSource feeds the metrics collector
type gaugeSource struct{ m *Manager }

func (g gaugeSource) Total(ctx context.Context) (int, error) { return g.m.store.Total(ctx) }
func (g gaugeSource) ArchiveCount() (int, error)             { return g.m.archiver.ArchiveCount() }
