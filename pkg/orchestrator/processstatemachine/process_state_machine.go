package processstatemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
)

// ProcessState represents the current state of a process handle in its lifecycle
type ProcessState string

const (
	// ProcessStatePending means the spec is declared but not launched
	ProcessStatePending ProcessState = "pending"

	// ProcessStateStarting means the launch is in progress
	ProcessStateStarting ProcessState = "starting"

	// ProcessStateRunning means the OS process is up, readiness not yet decided
	ProcessStateRunning ProcessState = "running"

	// ProcessStateReady means the readiness check passed (or none was declared)
	ProcessStateReady ProcessState = "ready"

	// ProcessStateReadinessTimedOut means the readiness check never passed in time
	ProcessStateReadinessTimedOut ProcessState = "readiness_timed_out"

	// ProcessStateStopping means termination is in progress
	ProcessStateStopping ProcessState = "stopping"

	// ProcessStateStopped is terminal
	ProcessStateStopped ProcessState = "stopped"
)

// IsTerminal reports whether no further transitions are possible from state
func IsTerminal(state ProcessState) bool {
	return state == ProcessStateStopped
}

// AllStates returns every process state in lifecycle order
func AllStates() []ProcessState {
	return []ProcessState{
		ProcessStatePending,
		ProcessStateStarting,
		ProcessStateRunning,
		ProcessStateReady,
		ProcessStateReadinessTimedOut,
		ProcessStateStopping,
		ProcessStateStopped,
	}
}

// ProcessStateTransition records a single state change with metadata
type ProcessStateTransition struct {
	From      ProcessState
	To        ProcessState
	Operation string
	Timestamp time.Time
	Error     error
}

// ProcessStateMachine manages process state transitions with validation
type ProcessStateMachine struct {
	processID        string
	currentState     ProcessState
	transitions      []ProcessStateTransition
	validTransitions map[ProcessState][]ProcessState
	mutex            sync.RWMutex
	logger           logging.Logger
}

// NewProcessStateMachine creates a state machine in the pending state
func NewProcessStateMachine(processID string, logger logging.Logger) *ProcessStateMachine {
	sm := &ProcessStateMachine{
		processID:    processID,
		currentState: ProcessStatePending,
		transitions:  make([]ProcessStateTransition, 0),
		logger:       logger,
	}

	// Stopping is reachable from every non-terminal state so teardown can
	// interrupt a start at any point
	sm.validTransitions = map[ProcessState][]ProcessState{
		ProcessStatePending: {
			ProcessStateStarting,
			ProcessStateStopping,
		},
		ProcessStateStarting: {
			ProcessStateRunning,
			ProcessStateStopping,
		},
		ProcessStateRunning: {
			ProcessStateReady,
			ProcessStateReadinessTimedOut,
			ProcessStateStopping,
		},
		ProcessStateReady: {
			ProcessStateStopping,
		},
		ProcessStateReadinessTimedOut: {
			ProcessStateStopping,
		},
		ProcessStateStopping: {
			ProcessStateStopped,
		},
		ProcessStateStopped: {},
	}

	return sm
}

// GetCurrentState returns the current state (thread-safe)
func (sm *ProcessStateMachine) GetCurrentState() ProcessState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// CanTransition checks if a state transition is valid (thread-safe)
func (sm *ProcessStateMachine) CanTransition(to ProcessState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition changes the process state with validation (thread-safe)
func (sm *ProcessStateMachine) Transition(to ProcessState, operation string, err error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.canTransitionUnsafe(to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from '%s' to '%s'", sm.currentState, to),
			nil,
		).WithContext("process_id", sm.processID).
			WithContext("from_state", string(sm.currentState)).
			WithContext("to_state", string(to)).
			WithContext("operation", operation)
	}

	from := sm.currentState
	sm.transitions = append(sm.transitions, ProcessStateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
		Error:     err,
	})
	sm.currentState = to

	if err != nil {
		sm.logger.Warnf("Process state transition with error, process: %s, %s->%s, operation: %s, error: %v",
			sm.processID, from, to, operation, err)
	} else {
		sm.logger.Infof("Process state transition, process: %s, %s->%s, operation: %s",
			sm.processID, from, to, operation)
	}

	return nil
}

func (sm *ProcessStateMachine) canTransitionUnsafe(to ProcessState) bool {
	validStates, exists := sm.validTransitions[sm.currentState]
	if !exists {
		return false
	}
	for _, validState := range validStates {
		if validState == to {
			return true
		}
	}
	return false
}

// GetTransitionHistory returns a copy of the complete transition history
func (sm *ProcessStateMachine) GetTransitionHistory() []ProcessStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]ProcessStateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}

// ProcessStateInfo provides comprehensive information about process state
type ProcessStateInfo struct {
	ProcessID       string
	CurrentState    ProcessState
	LastTransition  *ProcessStateTransition
	TransitionCount int
	ValidNextStates []ProcessState
}

// GetStateInfo returns comprehensive state information
func (sm *ProcessStateMachine) GetStateInfo() ProcessStateInfo {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	var lastTransition *ProcessStateTransition
	if len(sm.transitions) > 0 {
		lastTransition = &sm.transitions[len(sm.transitions)-1]
	}

	validStates := sm.validTransitions[sm.currentState]
	nextStates := make([]ProcessState, len(validStates))
	copy(nextStates, validStates)

	return ProcessStateInfo{
		ProcessID:       sm.processID,
		CurrentState:    sm.currentState,
		LastTransition:  lastTransition,
		TransitionCount: len(sm.transitions),
		ValidNextStates: nextStates,
	}
}
