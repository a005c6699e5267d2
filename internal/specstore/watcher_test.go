package specstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changes struct {
	mu   sync.Mutex
	seen []string
}

func (c *changes) record(module string) {
	c.mu.Lock()
	c.seen = append(c.seen, module)
	c.mu.Unlock()
}

func (c *changes) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func startWatcher(t *testing.T, s *Store, c *changes) *Watcher {
	t.Helper()
	w, err := NewWatcher(s, c.record, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("billing", "# v1\n"))

	c := &changes{}
	startWatcher(t, s, c)

	path, err := s.Path("billing")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("# burst\n"), 0o600))
	}

	assert.Eventually(t, func() bool { return len(c.get()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"billing"}, c.get(), "a burst is reported once")
}

func TestWatcher_NewModuleDirectory(t *testing.T) {
	s := New(t.TempDir())
	c := &changes{}
	startWatcher(t, s, c)

	require.NoError(t, os.Mkdir(filepath.Join(s.Root, "payments"), 0o750))
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Save("payments", "# Payments\n"))

	assert.Eventually(t, func() bool {
		for _, m := range c.get() {
			if m == "payments" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("billing", "# v1\n"))
	c := &changes{}
	startWatcher(t, s, c)

	require.NoError(t, os.WriteFile(filepath.Join(s.Root, "billing", "notes.txt"), []byte("x"), 0o600))
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, c.get())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	w, err := NewWatcher(s, func(string) {})
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}

func TestNewWatcher_RequiresHandler(t *testing.T) {
	_, err := NewWatcher(New(t.TempDir()), nil)
	assert.Error(t, err)
}
