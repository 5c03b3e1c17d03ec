package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chaincraft/internal/gradio"
	"github.com/soyeahso/chaincraft/internal/logging"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestConnectionManager_LazyConnect(t *testing.T) {
	dialer := &MockDialer{}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())

	assert.False(t, m.Connected())
	assert.Equal(t, uint64(0), m.Generation())
	assert.Equal(t, 0, dialer.Calls())

	s1, gen1, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen1)

	s2, gen2, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, gen1, gen2)
	assert.Equal(t, 1, dialer.Calls())
}

func TestConnectionManager_ConnectReplaces(t *testing.T) {
	m := NewConnectionManager(&MockDialer{}, ConnectionOptions{}, testLog())
	ctx := context.Background()

	old, _, err := m.Current(ctx)
	require.NoError(t, err)

	fresh, gen, err := m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
	assert.NotSame(t, old, fresh)
	assert.True(t, old.(*MockSession).Closed(), "replaced session is discarded")
	assert.False(t, fresh.(*MockSession).Closed())

	require.NoError(t, m.Close())
	assert.True(t, fresh.(*MockSession).Closed())
	assert.False(t, m.Connected())
}

func TestConnectionManager_ReconnectPinsGeneration(t *testing.T) {
	dialer := &MockDialer{}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())
	ctx := context.Background()

	_, gen1, err := m.Current(ctx)
	require.NoError(t, err)

	// first caller to notice the stale session replaces it
	s2, gen2, err := m.Reconnect(ctx, gen1)
	require.NoError(t, err)
	assert.Equal(t, gen1+1, gen2)

	// a second caller still pinned to gen1 gets the replacement, no dial
	s3, gen3, err := m.Reconnect(ctx, gen1)
	require.NoError(t, err)
	assert.Same(t, s2, s3)
	assert.Equal(t, gen2, gen3)
	assert.Equal(t, 2, dialer.Calls())
}

func TestConnectionManager_ConcurrentReconnectDialsOnce(t *testing.T) {
	dialer := &MockDialer{}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())
	ctx := context.Background()

	_, gen, err := m.Current(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Reconnect(ctx, gen)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, dialer.Calls())
	assert.Equal(t, gen+1, m.Generation())
}

func TestConnectionManager_RetriesThenFails(t *testing.T) {
	boom := errors.New("space is sleeping")
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) { return nil, boom },
	}

	var states []string
	m := NewConnectionManager(dialer, ConnectionOptions{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnStatus:   func(s ConnStatus) { states = append(states, s.State) },
	}, testLog())

	_, _, err := m.Current(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, dialer.Calls())
	assert.Equal(t, []string{
		ConnConnecting, ConnRetrying,
		ConnConnecting, ConnRetrying,
		ConnConnecting, ConnFailed,
	}, states)
	assert.True(t, IsUnavailable(err))
}

func TestConnectionManager_RetryRecovers(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) {
			if n == 1 {
				return nil, errors.New("503")
			}
			return &MockSession{}, nil
		},
	}
	m := NewConnectionManager(dialer, ConnectionOptions{MaxRetries: 1, RetryDelay: time.Millisecond}, testLog())

	_, gen, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, 2, dialer.Calls())
}

func TestConnectionManager_UnauthorizedNotRetried(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) {
			return nil, &gradio.HTTPError{Op: "config", StatusCode: http.StatusUnauthorized}
		},
	}
	m := NewConnectionManager(dialer, ConnectionOptions{MaxRetries: 3, RetryDelay: time.Hour}, testLog())

	_, _, err := m.Current(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Attempts)
	assert.Equal(t, 1, dialer.Calls())
}

func TestConnectionManager_CancelDuringDelay(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) { return nil, errors.New("down") },
	}
	m := NewConnectionManager(dialer, ConnectionOptions{MaxRetries: 5, RetryDelay: time.Hour}, testLog())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := m.Current(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, dialer.Calls())
}

func TestConnectionManager_NegativeRetries(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) { return nil, errors.New("down") },
	}
	m := NewConnectionManager(dialer, ConnectionOptions{MaxRetries: -4}, testLog())

	_, _, err := m.Current(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, dialer.Calls())
}

// within fails the test unless f returns in d.
func within(t *testing.T, d time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call blocked for more than %s", d)
	}
}

func TestConnectionManager_StatusNotBlockedByDial(t *testing.T) {
	release := make(chan struct{})
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) {
			<-release
			return &MockSession{}, nil
		},
	}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())
	ctx := context.Background()

	type result struct {
		sess Session
		gen  uint64
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			sess, gen, err := m.Current(ctx)
			assert.NoError(t, err)
			results <- result{sess, gen}
		}()
	}
	require.Eventually(t, func() bool { return dialer.Calls() == 1 }, time.Second, time.Millisecond)

	within(t, 100*time.Millisecond, func() {
		assert.False(t, m.Connected())
		assert.Equal(t, uint64(0), m.Generation())
		assert.Equal(t, 1, m.Dials())
	})

	close(release)
	r1, r2 := <-results, <-results
	assert.Same(t, r1.sess, r2.sess, "concurrent callers share one dial")
	assert.Equal(t, uint64(1), r1.gen)
	assert.Equal(t, 1, dialer.Calls())
}

func TestConnectionManager_StatusNotBlockedByRetryDelay(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) { return nil, errors.New("down") },
	}
	m := NewConnectionManager(dialer, ConnectionOptions{MaxRetries: 1, RetryDelay: time.Hour}, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := m.Current(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return dialer.Calls() == 1 }, time.Second, time.Millisecond)

	within(t, 100*time.Millisecond, func() {
		assert.False(t, m.Connected())
		assert.Equal(t, uint64(0), m.Generation())
	})

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConnectionManager_FailedReconnectDropsStale(t *testing.T) {
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) {
			if n == 2 {
				return nil, errors.New("space restarting")
			}
			return &MockSession{}, nil
		},
	}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())
	ctx := context.Background()

	s1, gen1, err := m.Current(ctx)
	require.NoError(t, err)

	_, _, err = m.Reconnect(ctx, gen1)
	require.Error(t, err)
	assert.True(t, s1.(*MockSession).Closed())
	assert.False(t, m.Connected())

	s3, gen3, err := m.Current(ctx)
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)
	assert.Equal(t, gen1+1, gen3)
	assert.Equal(t, 3, dialer.Calls())
}

func TestConnectionManager_WaiterRetriesAfterLeaderCancelled(t *testing.T) {
	started := make(chan struct{})
	dialer := &MockDialer{
		DialFunc: func(ctx context.Context, n int) (Session, error) {
			if n == 1 {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &MockSession{}, nil
		},
	}
	m := NewConnectionManager(dialer, ConnectionOptions{}, testLog())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := m.Current(leaderCtx)
		leaderErr <- err
	}()
	<-started

	waiter := make(chan error, 1)
	go func() {
		_, _, err := m.Current(context.Background())
		waiter <- err
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.NoError(t, <-waiter)
	assert.True(t, m.Connected())
	assert.Equal(t, 2, dialer.Calls())
}
