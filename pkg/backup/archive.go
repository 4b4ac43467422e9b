package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	// Extension of backup archives
	Extension = ".zip"

	// NameLayout names archives made without an explicit name
	NameLayout = "20060102_150405"

	compressionLevel = 6
)

// Snapshotter produces a verified, self-contained copy of the log database
type Snapshotter interface {
	OnlineBackup(ctx context.Context, targetPath string) (int, error)
}

// Archiver writes, lists and unpacks backup archives. Each archive holds
// the database copy under its file name plus the media directory tree.
type Archiver struct {
	store    Snapshotter
	dir      string
	mediaDir string
	dbName   string
}

// NewArchiver creates an archiver writing to dir. MediaDir is the directory
// captured alongside the database; dbName is the database's name inside the
// archive.
func NewArchiver(store Snapshotter, dir, mediaDir, dbName string) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	abs, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, err
	}
	return &Archiver{store: store, dir: dir, mediaDir: abs, dbName: dbName}, nil
}

// Dir returns the backup directory
func (a *Archiver) Dir() string {
	return a.dir
}

// Create snapshots the database and packs it with the media directory into
// <name>.zip. An empty name uses the current time. The raw snapshot is
// removed whether or not archiving succeeds.
func (a *Archiver) Create(ctx context.Context, name string) (*types.BackupArchive, int, error) {
	if name == "" {
		name = time.Now().Format(NameLayout)
	}
	name = strings.TrimSuffix(name, Extension)
	if err := CheckName(name); err != nil {
		return nil, 0, err
	}

	zipPath := filepath.Join(a.dir, name+Extension)
	if _, err := os.Stat(zipPath); err == nil {
		return nil, 0, &types.StorageError{Op: "backup", Kind: types.StorageExists,
			Err: fmt.Errorf("archive %s already exists", name+Extension)}
	}

	raw := filepath.Join(a.dir, "."+name+".db")
	defer os.Remove(raw)

	entries, err := a.store.OnlineBackup(ctx, raw)
	if err != nil {
		return nil, 0, err
	}

	partial := zipPath + ".partial"
	if err := a.writeZip(partial, raw); err != nil {
		os.Remove(partial)
		return nil, 0, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(partial, zipPath); err != nil {
		os.Remove(partial)
		return nil, 0, fmt.Errorf("failed to finalize archive: %w", err)
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, 0, err
	}
	return &types.BackupArchive{
		Name:    name + Extension,
		Path:    zipPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, entries, nil
}

func (a *Archiver) writeZip(path, dbFile string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, compressionLevel)
	})

	if err := addFile(zw, dbFile, a.dbName); err != nil {
		zw.Close()
		return err
	}

	if st, err := os.Stat(a.mediaDir); err == nil && st.IsDir() {
		parent := filepath.Dir(a.mediaDir)
		err := filepath.WalkDir(a.mediaDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(parent, p)
			if err != nil {
				return err
			}
			return addFile(zw, p, filepath.ToSlash(rel))
		})
		if err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func addFile(zw *zip.Writer, path, arcname string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = arcname
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// List returns the archives in the backup directory, oldest first
func (a *Archiver) List() ([]types.BackupArchive, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var archives []types.BackupArchive
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		archives = append(archives, types.BackupArchive{
			Name:    e.Name(),
			Path:    filepath.Join(a.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].ModTime.Equal(archives[j].ModTime) {
			return archives[i].Name < archives[j].Name
		}
		return archives[i].ModTime.Before(archives[j].ModTime)
	})
	return archives, nil
}

// ArchiveCount returns the number of archives on disk
func (a *Archiver) ArchiveCount() (int, error) {
	archives, err := a.List()
	return len(archives), err
}

// Prune deletes the oldest archives until at most limit remain and returns
// the names it removed
func (a *Archiver) Prune(limit int) ([]string, error) {
	archives, err := a.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for len(archives) > limit {
		if err := os.Remove(archives[0].Path); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", archives[0].Name, err)
		}
		removed = append(removed, archives[0].Name)
		archives = archives[1:]
	}
	return removed, nil
}

// Delete removes one archive. The extension is optional.
func (a *Archiver) Delete(name string) error {
	path, err := a.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archive %s: %w", name, types.ErrNotFound)
		}
		return err
	}
	return nil
}

// Unpacked is an archive extracted for restore
type Unpacked struct {
	Root     string // remove when done
	DBPath   string
	MediaDir string
}

// Cleanup removes the extraction directory
func (u *Unpacked) Cleanup() error {
	return os.RemoveAll(u.Root)
}

// Extract unpacks an archive into a scratch directory beside the media
// directory, so the restored tree can be renamed into place. Entries that
// would land outside the scratch directory are rejected.
func (a *Archiver) Extract(name string) (*Unpacked, error) {
	path, err := a.path(name)
	if err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s: %w", name, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	root, err := os.MkdirTemp(filepath.Dir(a.mediaDir), ".restore-")
	if err != nil {
		return nil, err
	}
	u := &Unpacked{
		Root:     root,
		DBPath:   filepath.Join(root, a.dbName),
		MediaDir: filepath.Join(root, filepath.Base(a.mediaDir)),
	}

	for _, f := range zr.File {
		if err := extractFile(root, f); err != nil {
			u.Cleanup()
			return nil, err
		}
	}

	if _, err := os.Stat(u.DBPath); err != nil {
		u.Cleanup()
		return nil, fmt.Errorf("archive %s has no %s", name, a.dbName)
	}
	if err := os.MkdirAll(u.MediaDir, 0o755); err != nil {
		u.Cleanup()
		return nil, err
	}

	logger := log.WithArchive(name)
	logger.Debug().Int("files", len(zr.File)).Str("root", root).Msg("Archive extracted")
	return u, nil
}

func extractFile(root string, f *zip.File) error {
	if strings.HasSuffix(f.Name, "/") {
		return nil
	}
	target := filepath.Join(root, filepath.FromSlash(f.Name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(f.Name) {
		return fmt.Errorf("archive entry %q escapes the restore directory", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (a *Archiver) path(name string) (string, error) {
	base := strings.TrimSuffix(name, Extension)
	if err := CheckName(base); err != nil {
		return "", err
	}
	return filepath.Join(a.dir, base+Extension), nil
}

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	reservedNames = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// CheckName rejects names that are not portable file names
func CheckName(name string) error {
	invalid := func(detail string) error {
		return &types.ValidationError{Field: "name", Reason: types.ReasonNameInvalid, Value: name, Detail: detail}
	}
	switch {
	case name == "":
		return invalid("empty")
	case len(name) > 255:
		return invalid(fmt.Sprintf("%d bytes, at most 255", len(name)))
	case reservedChars.MatchString(name):
		return invalid(`contains one of < > : " / \ | ? * or a control character`)
	case name == "." || name == "..":
		return invalid("reserved path element")
	case reservedNames[strings.ToUpper(name)]:
		return invalid("reserved device name")
	case strings.TrimRight(name, " .") != name:
		return invalid("ends with a space or dot")
	case strings.HasPrefix(name, "."):
		return invalid("starts with a dot")
	}
	return nil
}

// IsName reports whether err is a name rejection
func IsName(err error) bool {
	var ve *types.ValidationError
	return errors.As(err, &ve) && ve.Reason == types.ReasonNameInvalid
}
