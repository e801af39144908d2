// Package executor implements the single-threaded task executor used to
// serialize work onto one of the two cooperative goroutines a bearer
// runs (the UE executor and the cell executor), generalizing the
// ticker-driven background loop style the teacher uses for its node
// processing goroutines to an arbitrary posted-task queue.
package executor

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Executor runs posted tasks one at a time, in submission order, on a
// single goroutine. It is the Go stand-in for the task_executor
// abstraction the entities are specified against: "safe execution from
// executor X" means "posted to that X's Executor".
type Executor struct {
	name   string
	tasks  chan func()
	logger *logrus.Entry
}

// New creates an Executor with the given posted-task backlog capacity.
func New(name string, queueDepth int, logger *logrus.Entry) *Executor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		name:   name,
		tasks:  make(chan func(), queueDepth),
		logger: logger.WithField("executor", name),
	}
}

// Run drains posted tasks until ctx is cancelled. Intended to be run in
// its own goroutine, typically coordinated via errgroup by the owning
// bearer.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Debug("executor starting")
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("executor stopped")
			return nil
		case task := <-e.tasks:
			task()
		}
	}
}

// Post enqueues fn for execution on the executor's goroutine. Returns
// false if the backlog is full and fn was dropped; callers that must
// not drop work should hold a lock instead of posting.
func (e *Executor) Post(fn func()) bool {
	select {
	case e.tasks <- fn:
		return true
	default:
		e.logger.Warn("executor backlog full, dropping posted task")
		return false
	}
}
