package storage

import (
	"context"
	"time"

	"github.com/cuemby/modlog/pkg/config"
	"github.com/cuemby/modlog/pkg/types"
)

// LogStore is the durable moderation log. Mutating methods are called only
// by the mutation worker; reads may run concurrently with it.
type LogStore interface {
	// Mutations
	Create(ctx context.Context, entry *types.LogEntry, images map[int][]byte) (int64, error)
	Update(ctx context.Context, id int64, field types.Field, value *string) error
	UpdateFields(ctx context.Context, id int64, changes map[types.Field]*string) error
	Delete(ctx context.Context, id int64) error
	Renumber(ctx context.Context, oldID, newID int64) error
	ReplaceMedia(ctx context.Context, id int64, images map[int][]byte) error
	RestoreFrom(ctx context.Context, snapshotPath, mediaDir string) (int, error)

	// Reads
	Get(ctx context.Context, id int64, withMedia bool) (*types.LogEntry, error)
	Query(ctx context.Context, field types.Field, value string, mode types.MatchMode, limit int) ([]*types.LogEntry, error)
	Count(ctx context.Context, field types.Field, value string, mode types.MatchMode) (int, error)
	CountAndRisk(ctx context.Context, subjectID string, style *config.Style) (*types.RiskSummary, error)
	NthID(ctx context.Context, n int) (int64, error)
	Total(ctx context.Context) (int, error)

	// Backup
	OnlineBackup(ctx context.Context, targetPath string) (int, error)

	// Utility
	Path() string
	Close() error
}

// StateStore keeps scheduler bookkeeping that must survive restarts
type StateStore interface {
	LastBackup() (time.Time, bool, error)
	RecordBackup(rec types.BackupRecord) error
	History(limit int) ([]types.BackupRecord, error)
	AutoBackup() (enabled bool, set bool, err error)
	SetAutoBackup(enabled bool) error
	Close() error
}
