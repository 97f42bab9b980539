package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/pkg/errors"
)

func startWatcher(t *testing.T, fn ChangeFunc, paths ...string) (*Watcher, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	w, err := New(fn, WithDebounce(20*time.Millisecond), WithLogger(logger))
	require.NoError(t, err)
	for _, p := range paths {
		require.NoError(t, w.Watch(p))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, hook
}

func TestWatcher_CallsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plant.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	changed := make(chan string, 4)
	startWatcher(t, func(ctx context.Context, p string) error {
		changed <- p
		return nil
	}, path)

	require.NoError(t, os.WriteFile(path, []byte(`{"objects": []}`), 0644))

	select {
	case got := <-changed:
		want, _ := filepath.Abs(path)
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change observed")
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var calls atomic.Int32
	logger, _ := test.NewNullLogger()
	w, err := New(func(ctx context.Context, p string) error {
		calls.Add(1)
		return nil
	}, WithDebounce(200*time.Millisecond), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("ab"+string(rune('0'+i))), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	var calls atomic.Int32
	startWatcher(t, func(ctx context.Context, p string) error {
		calls.Add(1)
		return nil
	}, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_LogsHandlerError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	_, hook := startWatcher(t, func(ctx context.Context, p string) error {
		return errors.New(errors.CodeInvalidDocument, "broken document")
	}, path)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	assert.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && entry.Message == "reload failed"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, errors.CodeInvalidDocument, hook.LastEntry().Data["code"])
}

func TestWatch_MissingFile(t *testing.T) {
	w, err := New(func(context.Context, string) error { return nil })
	require.NoError(t, err)
	defer w.Close()

	err = w.Watch(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.IsCode(err, errors.CodeReadFailed))
}
