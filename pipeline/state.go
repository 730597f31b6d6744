package pipeline

import "go.uber.org/atomic"

// State is the readiness and single-flight latch of one scheduler. Only the owning scheduler
// mutates it.
type State struct {
	modelReady atomic.Bool
	busy       atomic.Bool
}

// NewState returns a state with no model and no cycle running.
func NewState() *State {
	return &State{}
}

// ModelReady reports whether a model has loaded.
func (s *State) ModelReady() bool {
	return s.modelReady.Load()
}

// SetModelReady marks the model as loaded. It reports false if it already was; readiness never reverts.
func (s *State) SetModelReady() bool {
	return s.modelReady.CompareAndSwap(false, true)
}

// Busy reports whether a cycle is running.
func (s *State) Busy() bool {
	return s.busy.Load()
}

// TryAcquire claims the right to run a cycle. It fails, without waiting, while another cycle runs.
func (s *State) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

// Release ends the running cycle.
func (s *State) Release() {
	s.busy.Store(false)
}
