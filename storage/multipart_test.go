package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessions(ttl time.Duration) *SessionManager {
	return NewSessionManager(ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// collect returns a CommitFunc that records the assembled body.
func collect(out *bytes.Buffer) CommitFunc {
	return func(ctx context.Context, s *UploadSession, body io.Reader, size int64) error {
		n, err := io.Copy(out, body)
		if err != nil {
			return err
		}
		if n != size {
			return errors.New("size mismatch")
		}
		return nil
	}
}

func TestSessionAssemblesPartsInOrder(t *testing.T) {
	m := newTestSessions(0)
	s := m.Create("local", "videos/2026/01/01/x.mp4", "x.mp4", 9, "video/mp4")
	assert.Equal(t, StateReceivingParts, s.State())

	for _, p := range []struct {
		n    int
		data string
	}{{3, "ghi"}, {1, "abc"}, {2, "def"}} {
		_, err := m.PutPart(s.ID, "local", p.n, []byte(p.data))
		require.NoError(t, err)
	}

	var out bytes.Buffer
	key, err := m.Complete(context.Background(), s.ID, "local", nil, collect(&out))
	require.NoError(t, err)
	assert.Equal(t, "videos/2026/01/01/x.mp4", key)
	assert.Equal(t, "abcdefghi", out.String())
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 0, m.Len())
}

func TestSessionPartResendReplaces(t *testing.T) {
	m := newTestSessions(0)
	s := m.Create("local", "k", "f", -1, "")

	first, err := m.PutPart(s.ID, "local", 1, []byte("old"))
	require.NoError(t, err)
	second, err := m.PutPart(s.ID, "local", 1, []byte("new"))
	require.NoError(t, err)
	again, err := m.PutPart(s.ID, "local", 1, []byte("new"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, again)
	assert.Equal(t, "22af645d1859cb5ca6da0c484f1f37ea", second)

	var out bytes.Buffer
	_, err = m.Complete(context.Background(), s.ID, "local", []string{second}, collect(&out))
	require.NoError(t, err)
	assert.Equal(t, "new", out.String())
}

func TestSessionPartDataIsCopied(t *testing.T) {
	m := newTestSessions(0)
	s := m.Create("local", "k", "f", -1, "")

	data := []byte("abc")
	_, err := m.PutPart(s.ID, "local", 1, data)
	require.NoError(t, err)
	data[0] = 'X'

	var out bytes.Buffer
	_, err = m.Complete(context.Background(), s.ID, "local", nil, collect(&out))
	require.NoError(t, err)
	assert.Equal(t, "abc", out.String())
}

func TestSessionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid part number", func(t *testing.T) {
		m := newTestSessions(0)
		s := m.Create("local", "k", "f", -1, "")
		_, err := m.PutPart(s.ID, "local", 0, []byte("a"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("unknown session", func(t *testing.T) {
		m := newTestSessions(0)
		_, err := m.PutPart("missing", "local", 1, []byte("a"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
		_, err = m.Complete(ctx, "missing", "local", nil, collect(&bytes.Buffer{}))
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
		_, err = m.BackendOf("missing")
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
	})

	t.Run("other backend", func(t *testing.T) {
		m := newTestSessions(0)
		s := m.Create("local", "k", "f", -1, "")
		_, err := m.PutPart(s.ID, "s3", 1, []byte("a"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
	})

	t.Run("complete without parts keeps session", func(t *testing.T) {
		m := newTestSessions(0)
		s := m.Create("local", "k", "f", -1, "")
		_, err := m.Complete(ctx, s.ID, "local", nil, collect(&bytes.Buffer{}))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("failed commit can be retried", func(t *testing.T) {
		m := newTestSessions(0)
		s := m.Create("local", "k", "f", -1, "")
		_, err := m.PutPart(s.ID, "local", 1, []byte("a"))
		require.NoError(t, err)

		boom := errors.New("backend down")
		_, err = m.Complete(ctx, s.ID, "local", nil, func(context.Context, *UploadSession, io.Reader, int64) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateReceivingParts, s.State())

		var out bytes.Buffer
		_, err = m.Complete(ctx, s.ID, "local", nil, collect(&out))
		require.NoError(t, err)
		assert.Equal(t, "a", out.String())
	})
}

func TestSessionTerminalStatesRejectReuse(t *testing.T) {
	ctx := context.Background()
	m := newTestSessions(0)

	completed := m.Create("local", "k1", "f", -1, "")
	_, err := m.PutPart(completed.ID, "local", 1, []byte("a"))
	require.NoError(t, err)
	_, err = m.Complete(ctx, completed.ID, "local", nil, collect(&bytes.Buffer{}))
	require.NoError(t, err)

	aborted := m.Create("local", "k2", "f", -1, "")
	ok, err := m.Abort(aborted.ID, "local")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateAborted, aborted.State())

	for _, id := range []string{completed.ID, aborted.ID} {
		_, err := m.PutPart(id, "local", 1, []byte("b"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
		_, err = m.Complete(ctx, id, "local", nil, collect(&bytes.Buffer{}))
		assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
		ok, err := m.Abort(id, "local")
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestSessionConcurrentCompleteCommitsOnce(t *testing.T) {
	m := newTestSessions(0)
	s := m.Create("local", "k", "f", -1, "")
	_, err := m.PutPart(s.ID, "local", 1, []byte("a"))
	require.NoError(t, err)

	release := make(chan struct{})
	var (
		mu      sync.Mutex
		commits int
	)
	commit := func(ctx context.Context, _ *UploadSession, body io.Reader, _ int64) error {
		mu.Lock()
		commits++
		mu.Unlock()
		<-release
		_, err := io.Copy(io.Discard, body)
		return err
	}

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Complete(context.Background(), s.ID, "local", nil, commit)
			errs <- err
		}()
	}

	// Every loser fails fast while the winner is blocked in commit.
	var failures int
	for failures < callers-1 {
		err := <-errs
		require.ErrorIs(t, err, interfaces.ErrSessionBusy)
		failures++
	}
	close(release)
	wg.Wait()
	close(errs)

	assert.NoError(t, <-errs)
	assert.Equal(t, 1, commits)
}

func TestSessionBusyWhileCommitting(t *testing.T) {
	m := newTestSessions(0)
	s := m.Create("local", "k", "f", -1, "")
	_, err := m.PutPart(s.ID, "local", 1, []byte("a"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := m.Complete(context.Background(), s.ID, "local", nil,
			func(ctx context.Context, _ *UploadSession, _ io.Reader, _ int64) error {
				close(entered)
				<-release
				return errors.New("backend down")
			})
		done <- err
	}()
	<-entered

	_, err = m.PutPart(s.ID, "local", 2, []byte("b"))
	assert.ErrorIs(t, err, interfaces.ErrSessionBusy)
	assert.NotErrorIs(t, err, interfaces.ErrInvalidSession)

	close(release)
	require.EqualError(t, <-done, "backend down")

	// The failed commit reopens the session.
	_, err = m.PutPart(s.ID, "local", 2, []byte("b"))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = m.Complete(context.Background(), s.ID, "local", nil, collect(&out))
	require.NoError(t, err)
	assert.Equal(t, "ab", out.String())
}

func TestSessionReap(t *testing.T) {
	m := newTestSessions(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale := m.Create("local", "k1", "f", -1, "")
	fresh := m.Create("local", "k2", "f", -1, "")

	now = now.Add(45 * time.Minute)
	_, err := m.PutPart(fresh.ID, "local", 1, []byte("a"))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, m.Reap())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, StateAborted, stale.State())

	_, err = m.PutPart(stale.ID, "local", 1, []byte("a"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSession)
	_, err = m.PutPart(fresh.ID, "local", 2, []byte("b"))
	assert.NoError(t, err)
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	m := newTestSessions(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
