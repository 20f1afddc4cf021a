// Package loop provides a serialized task executor. Tasks posted to a Loop
// run one at a time on a single goroutine, in the order they were posted.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when posting to a stopped Loop.
var ErrStopped = errors.New("loop: stopped")

type Loop struct {
	name string
	log  zerolog.Logger

	mu      sync.Mutex
	tasks   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

// New starts a Loop. The queue is unbounded; Post never blocks.
func New(name string, log zerolog.Logger) *Loop {
	l := &Loop{
		name: name,
		log:  log.With().Str("loop", name).Logger(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) Name() string {
	return l.name
}

// Post queues fn. It reports false if the Loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.log.Trace().Msg("post after stop")
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain waits until every task posted before the call has run.
// It must not be called from a task on the same Loop.
func (l *Loop) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	if !l.Post(func() { close(idle) }) {
		return ErrStopped
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects further posts, runs what is already queued, and waits for
// the loop goroutine to exit. It must not be called from a task on the
// same Loop.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		stopped := l.stopped
		l.mu.Unlock()

		if len(tasks) == 0 {
			if stopped {
				return
			}
			<-l.wake
			continue
		}
		for _, fn := range tasks {
			fn()
		}
	}
}
