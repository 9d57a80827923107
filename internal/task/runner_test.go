package task

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-cli/internal/store"
)

// fakeSession counts Close calls. Only Close is used by the runner.
type fakeSession struct {
	store.Store
	closed *atomic.Int32
}

func (f fakeSession) Close() error {
	f.closed.Add(1)
	return nil
}

func newTestRunner(t *testing.T, workers int) (*Runner, *atomic.Int32, string) {
	t.Helper()
	var closed atomic.Int32
	dir := t.TempDir()
	open := func(context.Context) (store.Store, error) {
		return fakeSession{closed: &closed}, nil
	}
	return NewRunner(open, dir, workers), &closed, dir
}

func readLog(t *testing.T, res Result) string {
	t.Helper()
	b, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	return string(b)
}

func TestRun_Done(t *testing.T) {
	r, closed, dir := newTestRunner(t, 1)

	res := r.Run(context.Background(), Descriptor{
		Name: "collect",
		Work: func(_ context.Context, sess store.Store, log *StatusLog) (any, error) {
			assert.NotNil(t, sess)
			log.Printf("Collecting for Houston, TX (large)")
			return 42, nil
		},
	})

	assert.True(t, res.OK())
	assert.Equal(t, "done", res.Status)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, int32(1), closed.Load())
	_, err := uuid.Parse(res.ID)
	assert.NoError(t, err)
	assert.Equal(t, dir+"/"+res.ID+".log", res.LogPath)

	log := readLog(t, res)
	assert.Contains(t, log, "Task "+res.ID+" started at ")
	assert.Contains(t, log, "Collecting for Houston, TX (large)\n")
	assert.Regexp(t, `Task `+res.ID+` finished with status: done in \d+\.\d{2} seconds`, log)
}

func TestRun_FailureBecomesStatus(t *testing.T) {
	r, closed, _ := newTestRunner(t, 1)

	res := r.Run(context.Background(), Descriptor{
		Work: func(context.Context, store.Store, *StatusLog) (any, error) {
			return nil, eris.Wrap(errors.New("user \"u9\""), "jobrun: unknown user")
		},
	})

	assert.False(t, res.OK())
	assert.Equal(t, `failed: jobrun: unknown user: user "u9"`, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, int32(1), closed.Load())

	log := readLog(t, res)
	assert.Contains(t, log, `Error occurred: jobrun: unknown user: user "u9"`)
	assert.Contains(t, log, "finished with status: failed: jobrun: unknown user")
}

func TestRun_PanicRecovered(t *testing.T) {
	r, closed, _ := newTestRunner(t, 1)

	res := r.Run(context.Background(), Descriptor{
		Work: func(context.Context, store.Store, *StatusLog) (any, error) {
			panic("kaboom")
		},
	})

	assert.Equal(t, "failed: panic: kaboom", res.Status)
	assert.Equal(t, int32(1), closed.Load(), "session closed after panic")
}

func TestRun_OpenerFailure(t *testing.T) {
	open := func(context.Context) (store.Store, error) { return nil, errors.New("database is locked") }
	r := NewRunner(open, t.TempDir(), 1)

	called := false
	res := r.Run(context.Background(), Descriptor{
		Work: func(context.Context, store.Store, *StatusLog) (any, error) {
			called = true
			return nil, nil
		},
	})
	assert.False(t, called)
	assert.Contains(t, res.Status, "failed: task: open store session: database is locked")
}

func TestRun_UnwritableLogDirStillRuns(t *testing.T) {
	var closed atomic.Int32
	blocker := t.TempDir() + "/file"
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := NewRunner(func(context.Context) (store.Store, error) {
		return fakeSession{closed: &closed}, nil
	}, blocker, 1)

	res := r.Run(context.Background(), Descriptor{
		Work: func(context.Context, store.Store, *StatusLog) (any, error) { return nil, nil },
	})
	assert.True(t, res.OK())
	assert.Empty(t, res.LogPath)
}

func TestSubmit_RespectsWorkerLimit(t *testing.T) {
	r, _, _ := newTestRunner(t, 2)

	var running, peak atomic.Int32
	work := func(context.Context, store.Store, *StatusLog) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	handles := make(chan *Handle, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles <- r.Submit(context.Background(), Descriptor{Work: work})
		}()
	}
	wg.Wait()
	close(handles)

	ids := map[string]bool{}
	for h := range handles {
		res := h.Wait()
		assert.True(t, res.OK())
		ids[res.ID] = true
	}
	r.Shutdown()

	assert.Len(t, ids, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestStatusLog_Buffer(t *testing.T) {
	var buf bytes.Buffer
	l := NewStatusLog(&buf)
	l.Printf("a %d", 1)
	l.Printf("b\n")
	assert.Equal(t, "a 1\nb\n", buf.String())
	assert.Empty(t, l.Path())
	assert.NoError(t, l.Close())

	var nilLog *StatusLog
	nilLog.Printf("ignored")
}
