package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSnapshotter writes fixed bytes as the snapshot
type fakeSnapshotter struct {
	data    []byte
	entries int
	err     error
	gate    chan struct{}
}

func (f *fakeSnapshotter) OnlineBackup(ctx context.Context, target string) (int, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(target, f.data, 0o600); err != nil {
		return 0, err
	}
	return f.entries, nil
}

func newArchiver(t *testing.T, snap Snapshotter) (*Archiver, string) {
	t.Helper()
	root := t.TempDir()
	mediaDir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(mediaDir, 0o755))
	a, err := NewArchiver(snap, filepath.Join(root, "backups"), mediaDir, "logs.db")
	require.NoError(t, err)
	return a, mediaDir
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestArchiver_Create(t *testing.T) {
	a, mediaDir := newArchiver(t, &fakeSnapshotter{data: []byte("sqlite"), entries: 3})
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "1_1.jpg"), []byte("jpg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "7_2.png"), []byte("png"), 0o644))

	archive, entries, err := a.Create(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Equal(t, 3, entries)
	assert.Equal(t, "nightly.zip", archive.Name)
	assert.Positive(t, archive.Size)

	assert.Equal(t, []string{"logs.db", "media/1_1.jpg", "media/7_2.png"}, zipNames(t, archive.Path))

	leftovers, err := filepath.Glob(filepath.Join(a.Dir(), ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "raw snapshot and partial files are removed")
}

func TestArchiver_CreateDefaultName(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})

	archive, _, err := a.Create(context.Background(), "")
	require.NoError(t, err)
	_, err = time.Parse(NameLayout+Extension, archive.Name)
	assert.NoError(t, err)
}

func TestArchiver_CreateErrors(t *testing.T) {
	t.Run("existing archive", func(t *testing.T) {
		a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
		_, _, err := a.Create(context.Background(), "one")
		require.NoError(t, err)

		_, _, err = a.Create(context.Background(), "one.zip")
		var se *types.StorageError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, types.StorageExists, se.Kind)
	})

	t.Run("snapshot failure leaves nothing behind", func(t *testing.T) {
		a, _ := newArchiver(t, &fakeSnapshotter{err: errors.New("disk full")})
		_, _, err := a.Create(context.Background(), "two")
		require.Error(t, err)

		entries, err := os.ReadDir(a.Dir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("invalid name", func(t *testing.T) {
		a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
		_, _, err := a.Create(context.Background(), "a/b")
		assert.True(t, IsName(err))
	})
}

func TestArchiver_ListAndPrune(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
	base := time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		archive, _, err := a.Create(context.Background(), fmt.Sprintf("b%d", i))
		require.NoError(t, err)
		stamp := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(archive.Path, stamp, stamp))
	}

	list, err := a.List()
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "b1.zip", list[0].Name)
	assert.Equal(t, "b5.zip", list[4].Name)

	removed, err := a.Prune(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1.zip", "b2.zip"}, removed)

	n, err := a.ArchiveCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	removed, err = a.Prune(3)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestArchiver_Delete(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{data: []byte("db")})
	_, _, err := a.Create(context.Background(), "gone")
	require.NoError(t, err)

	require.NoError(t, a.Delete("gone"))
	assert.ErrorIs(t, a.Delete("gone.zip"), types.ErrNotFound)
	assert.True(t, IsName(a.Delete("..")))
}

func TestArchiver_Extract(t *testing.T) {
	a, mediaDir := newArchiver(t, &fakeSnapshotter{data: []byte("sqlite")})
	require.NoError(t, os.WriteFile(filepath.Join(mediaDir, "3_1.gif"), []byte("gif"), 0o644))
	_, _, err := a.Create(context.Background(), "snap")
	require.NoError(t, err)

	u, err := a.Extract("snap")
	require.NoError(t, err)
	defer u.Cleanup()

	assert.Equal(t, filepath.Dir(mediaDir), filepath.Dir(u.Root), "extracted beside the media directory")
	db, err := os.ReadFile(u.DBPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", string(db))
	gif, err := os.ReadFile(filepath.Join(u.MediaDir, "3_1.gif"))
	require.NoError(t, err)
	assert.Equal(t, "gif", string(gif))

	require.NoError(t, u.Cleanup())
	assert.NoDirExists(t, u.Root)

	_, err = a.Extract("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestArchiver_ExtractEmptyMedia(t *testing.T) {
	a, mediaDir := newArchiver(t, &fakeSnapshotter{data: []byte("sqlite")})
	require.NoError(t, os.RemoveAll(mediaDir))
	_, _, err := a.Create(context.Background(), "bare")
	require.NoError(t, err)

	u, err := a.Extract("bare")
	require.NoError(t, err)
	defer u.Cleanup()
	assert.DirExists(t, u.MediaDir)
}

func writeRawZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestArchiver_ExtractRejects(t *testing.T) {
	a, _ := newArchiver(t, &fakeSnapshotter{})

	writeRawZip(t, filepath.Join(a.Dir(), "evil.zip"), map[string]string{
		"logs.db":       "db",
		"../escape.txt": "x",
	})
	_, err := a.Extract("evil")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")

	writeRawZip(t, filepath.Join(a.Dir(), "nodb.zip"), map[string]string{"media/1_1.jpg": "x"})
	_, err = a.Extract("nodb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs.db")

	scratch, err := filepath.Glob(filepath.Join(filepath.Dir(a.mediaDir), ".restore-*"))
	require.NoError(t, err)
	assert.Empty(t, scratch, "failed extractions clean up")
}

func TestCheckName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"20240501_040000", true},
		{"before-upgrade", true},
		{"", false},
		{"a:b", false},
		{"a*b", false},
		{"tab\there", false},
		{".", false},
		{"..", false},
		{"con", false},
		{"LPT1", false},
		{"trailing.", false},
		{"trailing ", false},
		{".hidden", false},
		{strings.Repeat("a", 256), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var ve *types.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, types.ReasonNameInvalid, ve.Reason)
		})
	}
}
