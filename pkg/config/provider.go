package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/types"
)

const styleExt = ".yml"

// ErrStyleActive is returned when deleting the style currently in use
var ErrStyleActive = errors.New("style is in use")

// Provider holds the current style and swaps it on load. Readers get a
// stable *Style for the duration of an operation.
type Provider struct {
	dir     string
	current atomic.Pointer[Style]

	mu       sync.Mutex
	onChange []func(*Style)
}

// NewProvider loads style name from dir. The embedded default is used when
// name is the default style and no file exists for it.
func NewProvider(dir, name string) (*Provider, error) {
	p := &Provider{dir: dir}
	if _, err := p.Load(name); err != nil {
		return nil, err
	}
	return p, nil
}

// NewStaticProvider wraps an already parsed style
func NewStaticProvider(s *Style) *Provider {
	p := &Provider{}
	p.current.Store(s)
	return p
}

// Current returns the active style
func (p *Provider) Current() *Style {
	return p.current.Load()
}

// Dir returns the styles directory
func (p *Provider) Dir() string {
	return p.dir
}

// OnChange registers fn to run after every successful load
func (p *Provider) OnChange(fn func(*Style)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Load parses the named style and makes it current. On failure the
// previous style stays active.
func (p *Provider) Load(name string) (*Style, error) {
	name = strings.TrimSuffix(name, styleExt)
	if err := checkStyleName(name); err != nil {
		return nil, err
	}

	s, err := p.read(name)
	if err != nil {
		return nil, err
	}

	p.current.Store(s)
	logger := log.WithComponent("style")
	logger.Info().Str("style", name).Msg("Style loaded")

	p.mu.Lock()
	hooks := append([]func(*Style){}, p.onChange...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
	return s, nil
}

// Reload re-reads the current style from disk
func (p *Provider) Reload() (*Style, error) {
	cur := p.Current()
	if cur == nil {
		return p.Load(DefaultStyleName)
	}
	return p.Load(cur.Name)
}

// Path returns the file path of a named style
func (p *Provider) Path(name string) string {
	return filepath.Join(p.dir, strings.TrimSuffix(name, styleExt)+styleExt)
}

// List returns style names ordered by file modification time, oldest first
func (p *Provider) List() ([]string, error) {
	return ListStyles(p.dir)
}

// ListStyles returns the style names in dir ordered by file modification
// time, oldest first. No style is parsed.
func ListStyles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list styles: %w", err)
	}

	type styleFile struct {
		name  string
		mtime int64
	}
	var files []styleFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != styleExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, styleFile{
			name:  strings.TrimSuffix(e.Name(), styleExt),
			mtime: info.ModTime().UnixNano(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mtime == files[j].mtime {
			return files[i].name < files[j].name
		}
		return files[i].mtime < files[j].mtime
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Delete removes a style file. The current style cannot be deleted.
func (p *Provider) Delete(name string) error {
	name = strings.TrimSuffix(name, styleExt)
	if err := checkStyleName(name); err != nil {
		return err
	}
	if cur := p.Current(); cur != nil && cur.Name == name {
		return ErrStyleActive
	}
	if err := os.Remove(p.Path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.ErrNotFound
		}
		return fmt.Errorf("failed to delete style %s: %w", name, err)
	}
	return nil
}

func (p *Provider) read(name string) (*Style, error) {
	data, err := os.ReadFile(p.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if name == DefaultStyleName {
				return ParseStyle(name, defaultStyleYAML)
			}
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read style %s: %w", name, err)
	}
	return ParseStyle(name, data)
}

func checkStyleName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid style name %q", name)
	}
	return nil
}
