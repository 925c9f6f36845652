package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/interfaces"
)

var (
	// ErrStopped is returned from a checkpoint once the batch has been stopped
	ErrStopped = errors.New("batch stopped")

	// ErrNoActiveTask is returned when a control command names a batch with no live task
	ErrNoActiveTask = errors.New("no active task")
)

// State holds the pause/stop flags of one in-flight batch task
type State struct {
	TaskID  string
	BatchID string

	mu      sync.Mutex
	paused  bool
	stopped bool
	wake    chan struct{}
	tabs    []interfaces.Tab
}

func newState(taskID, batchID string) *State {
	return &State{
		TaskID:  taskID,
		BatchID: batchID,
		wake:    make(chan struct{}),
	}
}

// Paused reports the pause flag
func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stopped reports the stop flag
func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SetPaused toggles the pause flag and wakes every waiting checkpoint
func (s *State) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	s.broadcastLocked()
}

// SetStopped toggles the stop flag. Stopping also clears pause so a paused
// worker wakes up and observes the stop.
func (s *State) SetStopped(stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = stopped
	if stopped {
		s.paused = false
	}
	s.broadcastLocked()
}

// AttachTabs records the tabs opened for this batch so a stop can release them
// without touching other batches' tabs
func (s *State) AttachTabs(tabs []interfaces.Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs = append(s.tabs, tabs...)
}

// DetachTabs returns the attached tabs and forgets them
func (s *State) DetachTabs() []interfaces.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	tabs := s.tabs
	s.tabs = nil
	return tabs
}

// broadcastLocked releases everyone blocked on the current wake channel. Caller holds mu.
func (s *State) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Checkpoint returns ErrStopped when the batch is stopped and blocks while it is
// paused. A paused worker resumes when the pause is cleared, and returns ErrStopped
// if the batch was stopped in the meantime. A cancelled context ends the wait.
func (s *State) Checkpoint(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return ErrStopped
		}
		if !s.paused {
			s.mu.Unlock()
			return nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Registry maps task ids to control states. It is owned by the dispatcher and
// shared with every batch it launches.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
	logger arbor.ILogger
}

// NewRegistry creates an empty registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		states: make(map[string]*State),
		logger: logger,
	}
}

// Create registers a fresh state for taskID, replacing any previous entry
func (r *Registry) Create(taskID, batchID string) *State {
	state := newState(taskID, batchID)

	r.mu.Lock()
	r.states[taskID] = state
	r.mu.Unlock()

	r.logger.Debug().Str("task_id", taskID).Str("batch_id", batchID).Msg("Control state created")
	return state
}

// Lookup returns the state of a task, or nil
func (r *Registry) Lookup(taskID string) *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[taskID]
}

// LookupByBatch returns the state of the task running batchID, or nil
func (r *Registry) LookupByBatch(batchID string) *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, state := range r.states {
		if state.BatchID == batchID {
			return state
		}
	}
	return nil
}

// Cleanup removes a task's state; absent tasks are ignored
func (r *Registry) Cleanup(taskID string) {
	r.mu.Lock()
	_, ok := r.states[taskID]
	delete(r.states, taskID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug().Str("task_id", taskID).Msg("Control state removed")
	}
}

// SetPaused sets the pause flag of the task running batchID
func (r *Registry) SetPaused(batchID string, paused bool) error {
	state := r.LookupByBatch(batchID)
	if state == nil {
		return fmt.Errorf("%w for batch %s", ErrNoActiveTask, batchID)
	}
	state.SetPaused(paused)
	r.logger.Info().Str("batch_id", batchID).Bool("paused", paused).Msg("Batch pause flag changed")
	return nil
}

// SetStopped sets the stop flag of the task running batchID
func (r *Registry) SetStopped(batchID string, stopped bool) error {
	state := r.LookupByBatch(batchID)
	if state == nil {
		return fmt.Errorf("%w for batch %s", ErrNoActiveTask, batchID)
	}
	state.SetStopped(stopped)
	r.logger.Info().Str("batch_id", batchID).Bool("stopped", stopped).Msg("Batch stop flag changed")
	return nil
}

// Active returns the live states ordered by batch id
func (r *Registry) Active() []*State {
	r.mu.RLock()
	states := make([]*State, 0, len(r.states))
	for _, state := range r.states {
		states = append(states, state)
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].BatchID < states[j].BatchID })
	return states
}

// Len returns the number of live states
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
