package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/modlog/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketBackup  = []byte("backup")
	bucketHistory = []byte("backup_history")

	keyLastTime = []byte("last_time")
	keyAuto     = []byte("auto")
)

// historyKeyLayout is fixed width so keys sort chronologically
const historyKeyLayout = "2006-01-02T15:04:05.000000000Z"

// historyKey orders records by time, then by insertion for equal times
func historyKey(at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", at.UTC().Format(historyKeyLayout), seq))
}

// BoltStore implements StateStore using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens the scheduler state database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBackup, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LastBackup returns the time of the last successful backup
func (s *BoltStore) LastBackup() (time.Time, bool, error) {
	var t time.Time
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBackup).Get(keyLastTime)
		if data == nil {
			return nil
		}
		found = true
		return t.UnmarshalText(data)
	})
	return t, found, err
}

// RecordBackup appends rec to the history and, when it succeeded, moves the
// last backup time forward
func (s *BoltStore) RecordBackup(rec types.BackupRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		history := tx.Bucket(bucketHistory)
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		if err := history.Put(historyKey(rec.At, seq), data); err != nil {
			return err
		}
		if !rec.Succeeded() || rec.Trigger == types.TriggerRestore {
			return nil
		}
		stamp, err := rec.At.MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBackup).Put(keyLastTime, stamp)
	})
}

// History returns up to limit records, newest first. A limit of 0 returns all.
func (s *BoltStore) History(limit int) ([]types.BackupRecord, error) {
	var records []types.BackupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec types.BackupRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	return records, err
}

// AutoBackup returns the persisted scheduler switch. Set is false when no
// operator has changed it yet.
func (s *BoltStore) AutoBackup() (enabled bool, set bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBackup).Get(keyAuto)
		if data == nil {
			return nil
		}
		set = true
		enabled = string(data) == "on"
		return nil
	})
	return enabled, set, err
}

// SetAutoBackup persists the scheduler switch
func (s *BoltStore) SetAutoBackup(enabled bool) error {
	value := "off"
	if enabled {
		value = "on"
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackup).Put(keyAuto, []byte(value))
	})
}
