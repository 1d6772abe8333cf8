// Package tasks tracks the set of long-running goroutines that make up the
// daemon's steady state. If any one of them returns, the whole process
// ends: this is the Go equivalent of the original implementation's
// WatchedTasksBuilder, built on errgroup instead of a hand-rolled Future
// poller.
package tasks

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/linux-automation/tacd-go/pkg/log"
)

// Group spawns named goroutines and cancels its context the moment any one
// of them returns (error or not), so the rest unwind and the process can
// exit with that task's error.
type Group struct {
	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGroup creates a task group derived from ctx. Cancelling ctx (e.g. on
// SIGTERM) stops every task the same way one of them returning would.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: ctx, cancel: cancel}
}

// Context returns the group's context, canceled as soon as any spawned task
// returns or the parent context is canceled.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Spawn runs fn in its own goroutine under the group. If fn returns (with or
// without error) before the group's context is otherwise canceled, the group
// context is canceled so every other task unwinds.
func (g *Group) Spawn(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		err := fn(g.ctx)
		if err != nil {
			log.Errorf("task %q ended: %s", name, err)
		} else {
			log.Infof("task %q ended", name)
		}
		g.cancel()
		return err
	})
}

// Wait blocks until every spawned task has returned, yielding the first
// non-nil error (if any), mirroring WatchedTasks being awaited at the end of
// main().
func (g *Group) Wait() error {
	return g.eg.Wait()
}
