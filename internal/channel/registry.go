// Package channel manages the chat front-ends the bot runs on.
package channel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/soyeahso/chaincraft/internal/domain"
	"github.com/soyeahso/chaincraft/internal/logging"
)

// ErrUnknownChannel is returned by Send when no channel has the message's
// ChannelID.
var ErrUnknownChannel = errors.New("unknown channel")

type statusReporter interface {
	Status() domain.ChannelStatus
}

// Registry holds the chat front-ends and supervises their Start loops.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	exits    map[string]error // Start returned, with its error
	running  conc.WaitGroup
	log      *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		exits:    make(map[string]error),
		log:      log.Sub("channels"),
	}
}

// Register adds ch. Ids are unique; a second channel with a taken id is
// rejected.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.channels[ch.ID()]; taken {
		return fmt.Errorf("channel %q already registered", ch.ID())
	}
	r.channels[ch.ID()] = ch
	r.log.Debug().Str("channel", ch.ID()).Msg("channel registered")
	return nil
}

func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns the registered ids in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// Each calls fn for every channel in id order. fn runs without the
// registry lock held.
func (r *Registry) Each(fn func(domain.Channel)) {
	for _, ch := range r.snapshot() {
		fn(ch)
	}
}

func (r *Registry) snapshot() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chs := slices.Collect(maps.Values(r.channels))
	slices.SortFunc(chs, func(a, b domain.Channel) int { return strings.Compare(a.ID(), b.ID()) })
	return chs
}

// Status reports every channel for the health endpoint. A channel whose
// Start loop has ended is shown as not running, with the error it ended on.
func (r *Registry) Status() []domain.ChannelStatus {
	chs := r.snapshot()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelStatus, 0, len(chs))
	for _, ch := range chs {
		st := domain.ChannelStatus{ChannelID: ch.ID(), Running: true}
		if sr, ok := ch.(statusReporter); ok {
			st = sr.Status()
		}
		if err, exited := r.exits[ch.ID()]; exited {
			st.Running = false
			st.Connected = false
			if err != nil && st.LastError == "" {
				st.LastError = err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

// Send delivers msg through the channel it names.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, msg.ChannelID)
	}
	return ch.Send(ctx, msg)
}

// StartAll runs each channel's Start in its own goroutine; Start may block
// for the life of the connection. A panic in one channel is logged and
// recorded as that channel's exit.
func (r *Registry) StartAll(ctx context.Context) {
	for _, ch := range r.snapshot() {
		id := ch.ID()
		r.log.Info().Str("channel", id).Msg("starting channel")
		r.running.Go(func() {
			var pc panics.Catcher
			var err error
			pc.Try(func() { err = ch.Start(ctx) })
			if rec := pc.Recovered(); rec != nil {
				err = rec.AsError()
				r.log.Error().Err(err).Str("channel", id).Msg("channel panicked")
			} else if err != nil {
				r.log.Error().Err(err).Str("channel", id).Msg("channel exited with error")
			}
			r.exited(id, err)
		})
	}
}

func (r *Registry) exited(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits[id] = err
}

// StopAll stops every channel concurrently, then waits for the Start
// goroutines to return.
func (r *Registry) StopAll(ctx context.Context) {
	var wg conc.WaitGroup
	for _, ch := range r.snapshot() {
		wg.Go(func() {
			if err := ch.Stop(ctx); err != nil {
				r.log.Error().Err(err).Str("channel", ch.ID()).Msg("failed to stop channel")
			}
		})
	}
	if rec := wg.WaitAndRecover(); rec != nil {
		r.log.Error().Err(rec.AsError()).Msg("channel panicked while stopping")
	}
	r.running.Wait()
	r.log.Info().Int("channels", r.Count()).Msg("channels stopped")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
