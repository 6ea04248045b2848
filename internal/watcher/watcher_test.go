package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) has(typ EventType, path string) bool {
	for _, e := range r.snapshot() {
		if e.Type == typ && e.Path == path {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, dir string, debounce time.Duration, rec *recorder, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(dir, debounce, rec.record, opts...)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Close() })

	// Give the watcher time to start
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/that/does/not/exist", 100*time.Millisecond, func(e Event) {})
	assert.Error(t, err)
}

func TestWatcherEvents(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("initial"), 0644))

	rec := &recorder{}
	startWatcher(t, tmpDir, 20*time.Millisecond, rec, WithLogger(zap.NewNop()))

	created := filepath.Join(tmpDir, "created.txt")
	require.NoError(t, os.WriteFile(created, []byte("test"), 0644))
	require.Eventually(t, func() bool { return rec.has(EventCreate, created) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(existing))
	require.Eventually(t, func() bool { return rec.has(EventDelete, existing) }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherCreateSurvivesWrites(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, tmpDir, 100*time.Millisecond, rec)

	created := filepath.Join(tmpDir, "burst.txt")
	require.NoError(t, os.WriteFile(created, []byte("one"), 0644))
	require.NoError(t, os.WriteFile(created, []byte("two"), 0644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, []Event{{Path: created, Type: EventCreate}}, rec.snapshot())
}

func TestMerge(t *testing.T) {
	create := Event{Path: "a", Type: EventCreate}
	modify := Event{Path: "a", Type: EventModify}
	remove := Event{Path: "a", Type: EventDelete}

	assert.Equal(t, create, merge(create, modify))
	assert.Equal(t, remove, merge(create, remove))
	assert.Equal(t, create, merge(modify, create))
	assert.Equal(t, Event{Path: "b", Type: EventModify}, merge(create, Event{Path: "b", Type: EventModify}))
}

func TestWatcherDebouncing(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, tmpDir, 100*time.Millisecond, rec)

	testFile := filepath.Join(tmpDir, "test.txt")
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(testFile, []byte("test"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	assert.Less(t, len(rec.snapshot()), 10, "debouncing should reduce events")
}

func TestWatcherCoalesce(t *testing.T) {
	tmpDir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, tmpDir, 150*time.Millisecond, rec, Coalesce())

	for i := 0; i < 5; i++ {
		name := filepath.Join(tmpDir, "file-"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "one burst across paths fires once")
}

func TestWatcherStartTwice(t *testing.T) {
	w, err := New(t.TempDir(), 100*time.Millisecond, func(e Event) {})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Start())
	assert.Error(t, w.Start())
}

func TestWatcherClose(t *testing.T) {
	w, err := New(t.TempDir(), 100*time.Millisecond, func(e Event) {})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Close())
	// Calling Close again should not error
	assert.NoError(t, w.Close())
	assert.Error(t, w.Start())
}
