// Package session implements the control plane's session state machine:
// a single active run at a time, cleaned up through a process-wide mutex
// and reconciled against a persistent record on every restart.
package session

import (
	"sync"
	"time"

	"github.com/cdp-agent/browserctl/pkg/model"
)

// State is the controller's position in the
// IDLE -> CLEANING -> ATTACHING -> RUNNING -> CLEANING -> IDLE cycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateCleaning  State = "CLEANING"
	StateAttaching State = "ATTACHING"
	StateRunning   State = "RUNNING"
)

// Session is one goal-driven run: the tab it's attached to, its step
// budget, and the outcome once the agent loop stops driving it.
type Session struct {
	ID        model.SessionID
	Tab       model.TabHandle
	Goal      string
	MaxSteps  int
	StartedAt time.Time

	mu       sync.RWMutex
	state    State
	outcome  model.Outcome
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once
}

// New creates a Session in the ATTACHING state, applying
// model.DefaultMaxSteps when cfg doesn't set one.
func New(id model.SessionID, tab model.TabHandle, cfg model.SessionConfig) *Session {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = model.DefaultMaxSteps
	}
	return &Session{
		ID:        id,
		Tab:       tab,
		Goal:      cfg.Goal,
		MaxSteps:  maxSteps,
		StartedAt: time.Now(),
		state:     StateAttaching,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stopped returns a channel closed once Stop is called, for the agent loop
// to select on alongside its own per-step work.
func (s *Session) Stopped() <-chan struct{} { return s.stopCh }

// Stop signals the session to wind down. Idempotent.
func (s *Session) Stop() { s.stopOnce.Do(func() { close(s.stopCh) }) }

// Done returns a channel closed once the agent loop driving this session
// has actually returned, letting Controller.Stop wait for the loop to
// vacate the driver before detaching.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// MarkDone closes Done's channel. Idempotent; called by the agent loop as
// its last act before returning.
func (s *Session) MarkDone() { s.doneOnce.Do(func() { close(s.doneCh) }) }

func (s *Session) Outcome() model.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

func (s *Session) SetOutcome(o model.Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
}
