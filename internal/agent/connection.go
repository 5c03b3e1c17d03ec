package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/chaincraft/internal/gradio"
	"github.com/soyeahso/chaincraft/internal/logging"
)

// Connection states reported to ConnectionOptions.OnStatus.
const (
	ConnConnecting = "connecting"
	ConnConnected  = "connected"
	ConnRetrying   = "retrying"
	ConnFailed     = "failed"
)

// ConnStatus is a connection lifecycle notification. It is informational
// only.
type ConnStatus struct {
	State      string
	Attempt    int
	Generation uint64
	Err        error
}

// ConnectionOptions tunes connection establishment.
type ConnectionOptions struct {
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	RetryDelay time.Duration
	OnStatus   func(ConnStatus)
}

// ConnectionManager owns the single live Session. Sessions are created
// lazily, replaced wholesale on reconnect, and numbered by a monotonic
// generation so callers can tell whether the session they used is still
// current. Dialing happens outside the lock; callers that need a session
// while a dial is running wait for that dial and share its outcome.
type ConnectionManager struct {
	dialer Dialer
	opts   ConnectionOptions
	log    *logging.Logger

	mu       sync.Mutex
	session  Session
	gen      uint64
	dials    int
	inflight *dialCall
}

// dialCall is one connect sequence (first dial plus retries).
type dialCall struct {
	done chan struct{}
	sess Session
	gen  uint64
	err  error
}

// NewConnectionManager creates a manager. No connection is made until the
// first Current or Connect call.
func NewConnectionManager(dialer Dialer, opts ConnectionOptions, log *logging.Logger) *ConnectionManager {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &ConnectionManager{
		dialer: dialer,
		opts:   opts,
		log:    log.Sub("connection"),
	}
}

// Current returns the live session and its generation, connecting if there
// is none.
func (m *ConnectionManager) Current(ctx context.Context) (Session, uint64, error) {
	return m.establish(ctx, true)
}

// Connect opens a new session and replaces the current one. A connect
// already in flight counts as the new session.
func (m *ConnectionManager) Connect(ctx context.Context) (Session, uint64, error) {
	return m.establish(ctx, false)
}

// Reconnect replaces the session of generation stale. The stale session is
// closed and dropped first, so nobody else picks it up while the new one is
// dialed, and it stays dropped if dialing fails. If another caller has
// already replaced it, the newer session is returned without dialing.
func (m *ConnectionManager) Reconnect(ctx context.Context, stale uint64) (Session, uint64, error) {
	m.mu.Lock()
	switch {
	case m.session != nil && m.gen != stale:
		sess, gen := m.session, m.gen
		m.mu.Unlock()
		m.log.Debug().
			Uint64("stale", stale).
			Uint64("generation", gen).
			Msg("session already replaced")
		return sess, gen, nil
	case m.session != nil:
		m.dropLocked()
	}
	m.mu.Unlock()

	return m.establish(ctx, true)
}

// Generation returns the generation of the newest session, 0 before the
// first connection.
func (m *ConnectionManager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Dials returns how many dial attempts have been made in total.
func (m *ConnectionManager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Connected reports whether a session is live.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Close discards the live session.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

// establish returns the live session when reuse is set and one exists,
// joins a dial already in flight, or dials itself. A waiter whose leader
// was cancelled tries again with its own context.
func (m *ConnectionManager) establish(ctx context.Context, reuse bool) (Session, uint64, error) {
	for {
		m.mu.Lock()
		if reuse && m.session != nil {
			sess, gen := m.session, m.gen
			m.mu.Unlock()
			return sess, gen, nil
		}
		call := m.inflight
		if call == nil {
			call = &dialCall{done: make(chan struct{})}
			m.inflight = call
			m.mu.Unlock()

			call.sess, call.gen, call.err = m.dial(ctx)

			m.mu.Lock()
			m.inflight = nil
			m.mu.Unlock()
			close(call.done)
			return call.sess, call.gen, call.err
		}
		m.mu.Unlock()

		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
		if call.err != nil && isContextErr(call.err) && ctx.Err() == nil {
			continue
		}
		return call.sess, call.gen, call.err
	}
}

// dial runs one connect sequence without holding the lock.
func (m *ConnectionManager) dial(ctx context.Context) (Session, uint64, error) {
	attempts := m.opts.MaxRetries + 1
	base := m.Generation()

	var lastErr error
	attempt := 0
	for attempt < attempts {
		attempt++
		m.notify(ConnStatus{State: ConnConnecting, Attempt: attempt, Generation: base})

		m.mu.Lock()
		m.dials++
		m.mu.Unlock()

		sess, err := m.dialer.Dial(ctx)
		if err == nil {
			m.mu.Lock()
			m.replaceLocked(sess)
			gen := m.gen
			m.mu.Unlock()

			m.log.Info().Int("attempt", attempt).Uint64("generation", gen).Msg("agent session established")
			m.notify(ConnStatus{State: ConnConnected, Attempt: attempt, Generation: gen})
			return sess, gen, nil
		}

		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}

		m.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", m.opts.RetryDelay).Msg("connect failed, retrying")
		m.notify(ConnStatus{State: ConnRetrying, Attempt: attempt, Generation: base, Err: err})
		if err := sleep(ctx, m.opts.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	m.log.Error().Err(lastErr).Int("attempts", attempt).Msg("agent connection failed")
	m.notify(ConnStatus{State: ConnFailed, Attempt: attempt, Generation: base, Err: lastErr})
	return nil, 0, &ConnectionError{Attempts: attempt, Err: lastErr}
}

// dropLocked closes and forgets the live session.
func (m *ConnectionManager) dropLocked() {
	if err := m.session.Close(); err != nil {
		m.log.Debug().Err(err).Uint64("generation", m.gen).Msg("closing stale session")
	}
	m.session = nil
}

// replaceLocked installs sess as the live session and discards the old one.
func (m *ConnectionManager) replaceLocked(sess Session) {
	if m.session != nil {
		m.dropLocked()
	}
	m.session = sess
	m.gen++
}

func (m *ConnectionManager) notify(s ConnStatus) {
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(s)
	}
}

// retryable reports whether another connect attempt could succeed.
func retryable(err error) bool {
	return !isContextErr(err) && !gradio.IsUnauthorized(err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
