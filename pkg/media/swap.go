package media

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Swap is an in-progress replacement of the whole media directory
type Swap struct {
	dir    string
	backup string
	done   bool
}

// SwapDir moves src into place as the media directory. The previous
// contents are kept aside until Commit or Rollback.
func (s *LocalStore) SwapDir(src string) (*Swap, error) {
	backup := s.basePath + ".swap-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	if _, err := os.Stat(s.basePath); err == nil {
		if err := os.Rename(s.basePath, backup); err != nil {
			return nil, fmt.Errorf("failed to move media directory aside: %w", err)
		}
	} else {
		backup = ""
	}

	if _, err := os.Stat(src); os.IsNotExist(err) {
		if err := os.MkdirAll(s.basePath, 0755); err != nil {
			restoreAside(s.basePath, backup)
			return nil, fmt.Errorf("failed to create media directory: %w", err)
		}
	} else if err := os.Rename(src, s.basePath); err != nil {
		restoreAside(s.basePath, backup)
		return nil, fmt.Errorf("failed to move restored media into place: %w", err)
	}

	return &Swap{dir: s.basePath, backup: backup}, nil
}

// Commit discards the previous media directory
func (w *Swap) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.backup == "" {
		return nil
	}
	return os.RemoveAll(w.backup)
}

// Rollback restores the previous media directory
func (w *Swap) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove restored media: %w", err)
	}
	if w.backup == "" {
		return os.MkdirAll(w.dir, 0755)
	}
	return os.Rename(w.backup, w.dir)
}

func restoreAside(dir, backup string) {
	if backup != "" {
		os.Rename(backup, dir)
	}
}
