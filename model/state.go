package model

import (
	"fmt"
	"sync"
)

// DocumentState is the lifecycle state of a retrieved document between
// download and archival.
type DocumentState string

const (
	StateDownloaded  DocumentState = "downloaded"
	StateValidated   DocumentState = "validated"
	StateClassified  DocumentState = "classified"
	StateRenamed     DocumentState = "renamed"
	StateArchived    DocumentState = "archived"
	StateQuarantined DocumentState = "quarantined"
	StateError       DocumentState = "error"
)

// Legacy status values kept for backward compatibility with older records.
const (
	LegacyStatusPending    = "pending"
	LegacyStatusProcessing = "processing"
	LegacyStatusCompleted  = "completed"
)

// transitions is the set of forward edges. StateError is additionally
// reachable from every state and StateQuarantined from every non-terminal
// state; both are handled in CanTransition.
var transitions = map[DocumentState][]DocumentState{
	StateDownloaded: {StateValidated, StateQuarantined, StateError},
	StateValidated:  {StateClassified, StateError},
	StateClassified: {StateRenamed, StateArchived, StateError},
	StateRenamed:    {StateArchived, StateError},
}

// InvalidTransitionError reports an attempted transition that is not part of
// the lifecycle graph. The document's recorded state is left untouched.
type InvalidTransitionError struct {
	From DocumentState
	To   DocumentState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid document state transition from %q to %q", e.From, e.To)
}

// ParseState normalizes a stored state string, mapping legacy aliases onto
// the current state set.
func ParseState(s string) (DocumentState, error) {
	switch s {
	case LegacyStatusPending:
		return StateDownloaded, nil
	case LegacyStatusProcessing:
		return StateClassified, nil
	case LegacyStatusCompleted:
		return StateArchived, nil
	}
	state := DocumentState(s)
	switch state {
	case StateDownloaded, StateValidated, StateClassified, StateRenamed,
		StateArchived, StateQuarantined, StateError:
		return state, nil
	}
	return "", fmt.Errorf("unknown document state %q", s)
}

// IsTerminal reports whether no further processing happens after state.
func IsTerminal(state DocumentState) bool {
	return state == StateArchived || state == StateQuarantined || state == StateError
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to DocumentState) bool {
	if to == StateError {
		return true
	}
	if to == StateQuarantined {
		return !IsTerminal(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// allStates lists every state in canonical order.
var allStates = []DocumentState{
	StateDownloaded, StateValidated, StateClassified, StateRenamed,
	StateArchived, StateQuarantined, StateError,
}

// NextStates returns the legal successor states of from, in canonical order.
// It is derived from CanTransition so the two can never disagree.
func NextStates(from DocumentState) []DocumentState {
	var out []DocumentState
	for _, to := range allStates {
		if CanTransition(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// StateMachine tracks the lifecycle of a single document. Safe for
// concurrent use.
type StateMachine struct {
	mu      sync.Mutex
	current DocumentState
}

// NewStateMachine starts a lifecycle at initial, which defaults to
// StateDownloaded when empty.
func NewStateMachine(initial DocumentState) *StateMachine {
	if initial == "" {
		initial = StateDownloaded
	}
	return &StateMachine{current: initial}
}

// Current returns the current state.
func (m *StateMachine) Current() DocumentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the lifecycle to target. On an illegal step it returns
// InvalidTransitionError and the current state is unchanged.
func (m *StateMachine) Transition(target DocumentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, target) {
		return &InvalidTransitionError{From: m.current, To: target}
	}
	m.current = target
	return nil
}
