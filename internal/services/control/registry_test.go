package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry(arbor.NewLogger())

	state := reg.Create("task-1", "batch-a")
	require.NotNil(t, state)
	assert.Same(t, state, reg.Lookup("task-1"))
	assert.Same(t, state, reg.LookupByBatch("batch-a"))
	assert.Nil(t, reg.LookupByBatch("batch-b"))

	// Create overwrites
	replaced := reg.Create("task-1", "batch-a")
	assert.NotSame(t, state, replaced)
	assert.Equal(t, 1, reg.Len())

	reg.Cleanup("task-1")
	assert.Nil(t, reg.Lookup("task-1"))
	reg.Cleanup("task-1")
	assert.Zero(t, reg.Len())
}

func TestRegistry_FlagsRequireActiveTask(t *testing.T) {
	reg := NewRegistry(arbor.NewLogger())

	assert.ErrorIs(t, reg.SetPaused("nope", true), ErrNoActiveTask)
	assert.ErrorIs(t, reg.SetStopped("nope", true), ErrNoActiveTask)

	state := reg.Create("task-1", "batch-a")
	require.NoError(t, reg.SetPaused("batch-a", true))
	assert.True(t, state.Paused())

	require.NoError(t, reg.SetStopped("batch-a", true))
	assert.True(t, state.Stopped())
	assert.False(t, state.Paused(), "stop clears pause")
}

func TestRegistry_Active(t *testing.T) {
	reg := NewRegistry(arbor.NewLogger())
	reg.Create("t2", "b2")
	reg.Create("t1", "b1")

	active := reg.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "b1", active[0].BatchID)
	assert.Equal(t, "b2", active[1].BatchID)
}

func TestState_CheckpointRunning(t *testing.T) {
	state := newState("t", "b")
	assert.NoError(t, state.Checkpoint(context.Background()))
}

func TestState_CheckpointStopped(t *testing.T) {
	state := newState("t", "b")
	state.SetStopped(true)
	assert.ErrorIs(t, state.Checkpoint(context.Background()), ErrStopped)
}

func TestState_CheckpointBlocksUntilResumed(t *testing.T) {
	state := newState("t", "b")
	state.SetPaused(true)

	done := make(chan error, 1)
	go func() { done <- state.Checkpoint(context.Background()) }()

	select {
	case <-done:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	state.SetPaused(false)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not resume")
	}
}

func TestState_StopWakesPausedCheckpoints(t *testing.T) {
	state := newState("t", "b")
	state.SetPaused(true)

	const waiters = 4
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- state.Checkpoint(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	state.SetStopped(true)

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("paused checkpoints were not released by stop")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrStopped)
	}
}

func TestState_CheckpointContextCancelled(t *testing.T) {
	state := newState("t", "b")
	state.SetPaused(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, state.Checkpoint(ctx), context.DeadlineExceeded)
}
