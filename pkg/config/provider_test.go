package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/modlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStyle(t *testing.T, dir, name, doc string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestNewProvider_DefaultFallback(t *testing.T) {
	p, err := NewProvider(t.TempDir(), DefaultStyleName)
	require.NoError(t, err)
	assert.Equal(t, DefaultStyleName, p.Current().Name)

	_, err = NewProvider(t.TempDir(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestProvider_LoadSwapsReference(t *testing.T) {
	dir := t.TempDir()
	writeStyle(t, dir, "strict", testStyle)

	p, err := NewProvider(dir, DefaultStyleName)
	require.NoError(t, err)
	before := p.Current()

	var seen []string
	p.OnChange(func(s *Style) { seen = append(seen, s.Name) })

	s, err := p.Load("strict.yml")
	require.NoError(t, err)
	assert.Equal(t, "strict", s.Name)
	assert.Same(t, s, p.Current())
	assert.Equal(t, []string{"strict"}, seen)

	// The old reference is untouched by the swap
	assert.Equal(t, DefaultStyleName, before.Name)
	_, ok := before.Actions["jail"]
	assert.False(t, ok)
}

func TestProvider_LoadFailureKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	writeStyle(t, dir, "broken", "actions:\n  x: explode\n")

	p, err := NewProvider(dir, DefaultStyleName)
	require.NoError(t, err)

	_, err = p.Load("broken")
	assert.Error(t, err)
	assert.Equal(t, DefaultStyleName, p.Current().Name)

	_, err = p.Load("../etc/passwd")
	assert.Error(t, err)
}

func TestProvider_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeStyle(t, dir, "live", testStyle)

	p, err := NewProvider(dir, "live")
	require.NoError(t, err)
	_, ok := p.Current().Actions["kick"]
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("actions:\n  boot: kick\n"), 0644))
	s, err := p.Reload()
	require.NoError(t, err)
	assert.Equal(t, types.ActionKick, s.Actions["boot"])
	_, ok = s.Actions["kick"]
	assert.False(t, ok)
}

func TestProvider_ListAndDelete(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i, name := range []string{"c", "a", "b"} {
		path := writeStyle(t, dir, name, testStyle)
		mtime := now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	p, err := NewProvider(dir, "a")
	require.NoError(t, err)

	names, err := p.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, names)

	assert.ErrorIs(t, p.Delete("a"), ErrStyleActive)
	assert.ErrorIs(t, p.Delete("zzz"), types.ErrNotFound)
	require.NoError(t, p.Delete("c"))

	names, err = p.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeStyle(t, dir, "live", testStyle)

	p, err := NewProvider(dir, "live")
	require.NoError(t, err)

	w, err := NewWatcher(p, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("actions:\n  boot: kick\n"), 0644))

	assert.Eventually(t, func() bool {
		_, ok := p.Current().Actions["boot"]
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
