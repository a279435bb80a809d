// Package work runs named fire-and-forget tasks on a bounded background
// queue so HTTP refresh endpoints can acknowledge immediately.
package work

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultQueueDepth = 16

// Task is one queued unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner drains a bounded task queue on a single goroutine. Submissions
// beyond the queue depth are rejected rather than blocking the caller.
type Runner struct {
	queue    chan Task
	inflight sync.Map // task name -> struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	log      zerolog.Logger
}

// NewRunner builds a runner with the default queue depth.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		queue: make(chan Task, defaultQueueDepth),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "work").Logger(),
	}
}

// Start launches the drain loop.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

// Stop cancels the running task and waits for the loop to exit.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Submit queues a task. It returns false when the queue is full or a task
// with the same name is already queued or running.
func (r *Runner) Submit(task Task) bool {
	if _, dup := r.inflight.LoadOrStore(task.Name, struct{}{}); dup {
		return false
	}
	select {
	case r.queue <- task:
		return true
	default:
		r.inflight.Delete(task.Name)
		return false
	}
}

// Busy reports whether a task with the given name is queued or running.
func (r *Runner) Busy(name string) bool {
	_, ok := r.inflight.Load(name)
	return ok
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			start := time.Now()
			err := task.Run(ctx)
			r.inflight.Delete(task.Name)
			if err != nil {
				r.log.Error().Err(err).Str("task", task.Name).
					Dur("elapsed", time.Since(start)).Msg("Background task failed")
				continue
			}
			r.log.Info().Str("task", task.Name).
				Dur("elapsed", time.Since(start)).Msg("Background task finished")
		}
	}
}
