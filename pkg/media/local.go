package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMediaPath is the base directory for evidence images
const DefaultMediaPath = "media/logs"

// Store persists evidence images named {id}_{index}.{ext}
type Store interface {
	// Save writes one image and returns its path
	Save(id int64, index int, data []byte) (string, error)

	// Delete removes every image of id. Either all files go or none do.
	Delete(id int64) error

	// List maps index to absolute path for the images of id
	List(id int64) (map[int]string, error)

	// Rename moves every image of oldID to newID, restoring the originals
	// if any rename fails
	Rename(oldID, newID int64) error

	// Replace swaps the images of id for a new set
	Replace(id int64, images map[int][]byte) error

	// SwapDir replaces the whole directory with src
	SwapDir(src string) (*Swap, error)

	// Dir returns the base directory
	Dir() string
}

// LocalStore keeps images as files in one directory
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = DefaultMediaPath
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &LocalStore{basePath: abs}, nil
}

// Dir returns the base directory
func (s *LocalStore) Dir() string {
	return s.basePath
}

// Save writes data as {id}_{index}.{ext}, the extension sniffed from content
func (s *LocalStore) Save(id int64, index int, data []byte) (string, error) {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	path := filepath.Join(s.basePath, FileName(id, index, Extension(data)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image %d_%d: %w", id, index, err)
	}
	return path, nil
}

// Delete removes all images of id. Files are first moved aside so that a
// failure part way leaves the originals in place.
func (s *LocalStore) Delete(id int64) error {
	files, err := s.files(id)
	if err != nil {
		return err
	}

	staged := make([][2]string, 0, len(files))
	for _, name := range files {
		from := filepath.Join(s.basePath, name)
		to := filepath.Join(s.basePath, ".deleting."+name)
		if err := os.Rename(from, to); err != nil {
			s.undo(staged)
			return fmt.Errorf("failed to delete image %s: %w", name, err)
		}
		staged = append(staged, [2]string{from, to})
	}

	for _, p := range staged {
		if err := os.Remove(p[1]); err != nil {
			logger := log.WithComponent("media")
			logger.Warn().Err(err).Str("path", p[1]).Msg("Failed to remove staged image")
		}
	}
	return nil
}

// List maps index to path for every image of id
func (s *LocalStore) List(id int64) (map[int]string, error) {
	files, err := s.files(id)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(files))
	for _, name := range files {
		_, index, ok := ParseFileName(name)
		if !ok {
			continue
		}
		out[index] = filepath.Join(s.basePath, name)
	}
	return out, nil
}

// Rename moves the images of oldID under newID
func (s *LocalStore) Rename(oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	existing, err := s.files(newID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("images for %d already exist", newID)
	}

	files, err := s.files(oldID)
	if err != nil {
		return err
	}

	oldPrefix := prefix(oldID)
	done := make([][2]string, 0, len(files))
	for _, name := range files {
		from := filepath.Join(s.basePath, name)
		to := filepath.Join(s.basePath, prefix(newID)+strings.TrimPrefix(name, oldPrefix))
		if err := os.Rename(from, to); err != nil {
			s.undo(done)
			return fmt.Errorf("failed to rename image %s: %w", name, err)
		}
		done = append(done, [2]string{from, to})
	}
	return nil
}

// Replace writes the new images beside the old ones, removes the old set
// and moves the new set into place
func (s *LocalStore) Replace(id int64, images map[int][]byte) error {
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	stamp := strconv.FormatInt(time.Now().UnixNano(), 36)
	staged := make([][2]string, 0, len(images))
	cleanup := func() {
		for _, p := range staged {
			os.Remove(p[1])
		}
	}

	for _, index := range sortedIndexes(images) {
		data := images[index]
		name := FileName(id, index, Extension(data))
		tmp := filepath.Join(s.basePath, ".replacing."+stamp+"."+name)
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			cleanup()
			return fmt.Errorf("failed to stage image %s: %w", name, err)
		}
		staged = append(staged, [2]string{filepath.Join(s.basePath, name), tmp})
	}

	if err := s.Delete(id); err != nil {
		cleanup()
		return err
	}

	for _, p := range staged {
		if err := os.Rename(p[1], p[0]); err != nil {
			cleanup()
			return fmt.Errorf("failed to place image %s: %w", filepath.Base(p[0]), err)
		}
	}
	return nil
}

// files returns the file names belonging to id
func (s *LocalStore) files(id int64) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read media directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if fid, _, ok := ParseFileName(e.Name()); ok && fid == id {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// undo reverses completed [from, to] renames
func (s *LocalStore) undo(done [][2]string) {
	for i := len(done) - 1; i >= 0; i-- {
		if err := os.Rename(done[i][1], done[i][0]); err != nil {
			logger := log.WithComponent("media")
			logger.Error().Err(err).Str("path", done[i][1]).Msg("Failed to restore image")
		}
	}
}

// FileName builds the on-disk name of an image
func FileName(id int64, index int, ext string) string {
	return fmt.Sprintf("%d_%d.%s", id, index, ext)
}

// ParseFileName splits {id}_{index}.{ext}; hidden and foreign files fail
func ParseFileName(name string) (id int64, index int, ok bool) {
	if strings.HasPrefix(name, ".") {
		return 0, 0, false
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idPart, indexPart, found := strings.Cut(base, "_")
	if !found {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	index, err = strconv.Atoi(indexPart)
	if err != nil {
		return 0, 0, false
	}
	return id, index, true
}

func prefix(id int64) string {
	return strconv.FormatInt(id, 10) + "_"
}

func sortedIndexes(images map[int][]byte) []int {
	out := make([]int, 0, len(images))
	for i := range images {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Extension picks a file extension from the sniffed content of data.
// Anything that is not a recognized image is stored as jpg.
func Extension(data []byte) string {
	m := mimetype.Detect(data)
	if !strings.HasPrefix(m.String(), "image/") || m.Extension() == "" {
		return "jpg"
	}
	return strings.TrimPrefix(m.Extension(), ".")
}

// DecodeDataURL decodes a base64 "data:image/...;base64," payload as sent
// by the web form. Bare base64 is accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		meta, data, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("malformed data url")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("data url is not base64 encoded")
		}
		payload = data
	}
	out, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return out, nil
}
