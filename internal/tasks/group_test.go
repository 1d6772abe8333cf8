package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupWaitReturnsTaskError(t *testing.T) {
	g := NewGroup(context.Background())
	wantErr := errors.New("boom")

	g.Spawn("failing", func(ctx context.Context) error {
		return wantErr
	})

	err := g.Wait()
	assert.ErrorIs(t, err, wantErr)
}

func TestOneTaskReturningCancelsTheGroupContext(t *testing.T) {
	g := NewGroup(context.Background())

	g.Spawn("quick", func(ctx context.Context) error {
		return nil
	})

	g.Spawn("long-running", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	// The long-running task only returns once the quick task's exit has
	// canceled the group context, and it reports that cancellation.
	require.ErrorIs(t, g.Wait(), context.Canceled)
}

func TestParentCancellationStopsEveryTask(t *testing.T) {
	parentCtx, cancel := context.WithCancel(context.Background())
	g := NewGroup(parentCtx)

	started := make(chan struct{})
	g.Spawn("waits-for-ctx", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})

	<-started
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("group did not unwind after parent cancellation")
	}
}
