package routing

import (
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/soyeahso/chaincraft/internal/logging"
)

// keyedQueue runs tasks one at a time per key, in the order they were
// pushed. Different keys run concurrently. A key has at most one worker,
// which exits once its backlog is empty.
type keyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	workers conc.WaitGroup
	log     *logging.Logger
}

func newKeyedQueue(log *logging.Logger) *keyedQueue {
	return &keyedQueue{
		pending: make(map[string][]func()),
		log:     log,
	}
}

func (q *keyedQueue) push(key string, task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog, busy := q.pending[key]
	q.pending[key] = append(backlog, task)
	if !busy {
		q.workers.Go(func() { q.drain(key) })
	}
}

func (q *keyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		backlog := q.pending[key]
		if len(backlog) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		task := backlog[0]
		backlog[0] = nil
		q.pending[key] = backlog[1:]
		q.mu.Unlock()

		var pc panics.Catcher
		pc.Try(task)
		if rec := pc.Recovered(); rec != nil {
			q.log.Error().Err(rec.AsError()).Str("conversation", key).Msg("message handler panicked")
		}
	}
}

// busy returns the number of keys with queued or running work.
func (q *keyedQueue) busy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// wait blocks until every worker has drained its backlog.
func (q *keyedQueue) wait() {
	q.workers.Wait()
}
