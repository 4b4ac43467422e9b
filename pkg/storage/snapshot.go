package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/types"
)

// OnlineBackup writes a self-contained copy of the live database to
// targetPath while readers and the writer keep running. The WAL is folded
// into the main file first, then VACUUM INTO copies a read-consistent
// snapshot. The copy is verified before it is trusted and removed if
// verification fails. It returns the number of entries in the copy.
func (s *SQLiteStore) OnlineBackup(ctx context.Context, targetPath string) (int, error) {
	logger := log.WithComponent("storage")

	if _, err := os.Stat(targetPath); err == nil {
		return 0, &types.StorageError{Op: "backup", Kind: types.StorageExists,
			Err: fmt.Errorf("%s already exists", targetPath)}
	}

	var busy, walPages, moved int
	if err := s.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`).Scan(&busy, &walPages, &moved); err != nil {
		return 0, storageErr("backup", 0, fmt.Errorf("checkpoint: %w", err))
	}
	if busy != 0 {
		// A reader held the WAL open; VACUUM INTO still yields a consistent copy
		logger.Debug().Int("wal_pages", walPages).Int("moved", moved).Msg("Checkpoint could not truncate the WAL")
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, targetPath); err != nil {
		os.Remove(targetPath)
		return 0, storageErr("backup", 0, fmt.Errorf("copy: %w", err))
	}

	n, err := VerifySnapshot(ctx, targetPath)
	if err != nil {
		os.Remove(targetPath)
		return 0, &types.BackupVerificationError{Path: targetPath, Err: err}
	}

	logger.Debug().Str("target", targetPath).Int("entries", n).Msg("Online backup written")
	return n, nil
}

// VerifySnapshot opens a database copy read-only and checks that it holds a
// queryable logs table. It returns the row count.
func VerifySnapshot(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'logs'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.New("logs table missing")
	}
	if err != nil {
		return 0, fmt.Errorf("read schema: %w", err)
	}

	var integrity string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return 0, fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return 0, fmt.Errorf("integrity check: %s", integrity)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM logs LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read row: %w", err)
	}
	return n, nil
}

// RestoreFrom replaces every entry with the contents of a verified snapshot
// and, when mediaDir is set, swaps in the media directory extracted with
// it. Rows and media change together or not at all.
func (s *SQLiteStore) RestoreFrom(ctx context.Context, snapshotPath, mediaDir string) (restored int, err error) {
	if _, err := VerifySnapshot(ctx, snapshotPath); err != nil {
		return 0, &types.BackupVerificationError{Path: snapshotPath, Err: err}
	}

	// ATTACH is per connection, so the whole restore runs on one
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, storageErr("restore", 0, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS snap`, snapshotPath); err != nil {
		return 0, storageErr("restore", 0, fmt.Errorf("attach: %w", err))
	}
	defer func() {
		if _, derr := conn.ExecContext(context.Background(), `DETACH DATABASE snap`); derr != nil {
			logger := log.WithComponent("storage")
			logger.Warn().Err(derr).Msg("Failed to detach snapshot")
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("restore", 0, err)
	}
	defer rollbackOnErr(tx, &err)

	if _, err = tx.ExecContext(ctx, `DELETE FROM main.logs`); err != nil {
		return 0, storageErr("restore", 0, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO main.logs (`+logColumns+`) SELECT `+logColumns+` FROM snap.logs ORDER BY id`)
	if err != nil {
		return 0, storageErr("restore", 0, err)
	}
	n, _ := res.RowsAffected()

	// Keep the larger of the snapshot counter and its highest id
	var seq int64
	if err = tx.QueryRowContext(ctx, `SELECT MAX(
			COALESCE((SELECT seq FROM snap.sqlite_sequence WHERE name = 'logs'), 0),
			COALESCE((SELECT MAX(id) FROM main.logs), 0))`).Scan(&seq); err != nil {
		return 0, storageErr("restore", 0, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM main.sqlite_sequence WHERE name = 'logs'`); err != nil {
		return 0, storageErr("restore", 0, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO main.sqlite_sequence (name, seq) VALUES ('logs', ?)`, seq); err != nil {
		return 0, storageErr("restore", 0, err)
	}

	var swap interface {
		Commit() error
		Rollback() error
	}
	if mediaDir != "" && s.media != nil {
		sw, serr := s.media.SwapDir(mediaDir)
		if serr != nil {
			err = &types.StorageError{Op: "restore", Kind: types.StorageRollback, Err: serr}
			return 0, err
		}
		swap = sw
	}

	if err = tx.Commit(); err != nil {
		if swap != nil {
			if rerr := swap.Rollback(); rerr != nil {
				logger := log.WithComponent("storage")
				logger.Error().Err(rerr).Msg("Failed to roll back media after restore failure")
			}
		}
		return 0, storageErr("restore", 0, err)
	}
	if swap != nil {
		if cerr := swap.Commit(); cerr != nil {
			logger := log.WithComponent("storage")
			logger.Warn().Err(cerr).Msg("Failed to remove previous media directory")
		}
	}
	return int(n), nil
}
