package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/devstack-tools/orchestrator-go/pkg/depgraph"
	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processcontrol"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processcontrolimpl"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processstatemachine"
	"github.com/devstack-tools/orchestrator-go/pkg/process"
	"github.com/devstack-tools/orchestrator-go/pkg/readiness"
)

// ProcessSpec is the static declaration of a process to orchestrate
type ProcessSpec struct {
	ID              string
	Execution       process.ExecutionConfig
	Readiness       *readiness.Config
	DependsOn       []string
	GracefulTimeout time.Duration
}

// ProcessStatus is the externally visible state of a process handle
type ProcessStatus struct {
	ID        string                           `json:"id"`
	State     processstatemachine.ProcessState `json:"state"`
	PID       int                              `json:"pid,omitempty"`
	StartTime *time.Time                       `json:"start_time,omitempty"`
	ExitError string                           `json:"exit_error,omitempty"`
	DependsOn []string                         `json:"depends_on,omitempty"`
}

type ProcessRegistry interface {
	AddProcess(spec ProcessSpec) error
}

type OrchestratorLifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(name string) (ProcessStatus, error)
	StatusAll() map[string]ProcessStatus
	GetOrchestratorState() OrchestratorState
}

type Orchestrator interface {
	ProcessRegistry
	OrchestratorLifecycle
}

// OrchestratorState represents the current state of the orchestrator itself
type OrchestratorState string

const (
	// OrchestratorStateNotStarted is the initial state before Start is called
	OrchestratorStateNotStarted OrchestratorState = "not_started"

	// OrchestratorStateStarting means the dependency-ordered launch is in progress
	OrchestratorStateStarting OrchestratorState = "starting"

	// OrchestratorStateRunning means all processes launched and readiness-gated
	OrchestratorStateRunning OrchestratorState = "running"

	// OrchestratorStateStopping means coordinated teardown is in progress
	OrchestratorStateStopping OrchestratorState = "stopping"

	// OrchestratorStateStopped means the orchestrator has stopped
	OrchestratorStateStopped OrchestratorState = "stopped"
)

type OrchestratorOptions struct {
	// ForceShutdownTimeout bounds the whole teardown, including grace periods
	ForceShutdownTimeout time.Duration

	// Clock drives readiness backoff timing, nil for the real clock
	Clock clockwork.Clock
}

// controlFactory creates process controls, replaceable in tests
type controlFactory func(options processcontrol.ProcessControlOptions, processID string, logger logging.Logger) processcontrol.ProcessControl

// processEntry combines the spec, control and state machine for one process
type processEntry struct {
	spec         ProcessSpec
	control      processcontrol.ProcessControl
	stateMachine *processstatemachine.ProcessStateMachine
}

type orchestrator struct {
	options        OrchestratorOptions
	processes      map[string]*processEntry
	graph          *depgraph.Graph
	startOrder     []string // IDs in the order their launch succeeded
	state          OrchestratorState
	startCancel    context.CancelFunc
	controlFactory controlFactory
	mutex          sync.Mutex
	logger         logging.Logger
}

func NewOrchestrator(options OrchestratorOptions, logger logging.Logger) Orchestrator {
	return &orchestrator{
		options:        options,
		processes:      make(map[string]*processEntry),
		graph:          depgraph.NewGraph(),
		state:          OrchestratorStateNotStarted,
		controlFactory: processcontrolimpl.NewProcessControl,
		logger:         logger,
	}
}

var processIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateProcessID checks that an ID is usable as a process name
func ValidateProcessID(id string) error {
	if id == "" {
		return errors.NewValidationError("process ID cannot be empty", nil)
	}
	if !processIDPattern.MatchString(id) {
		return errors.NewValidationError(
			fmt.Sprintf("process ID contains invalid characters: %s", id),
			nil,
		).WithContext("allowed", "letters, digits, '-', '_'")
	}
	return nil
}

func (o *orchestrator) AddProcess(spec ProcessSpec) error {
	if err := ValidateProcessID(spec.ID); err != nil {
		return errors.NewValidationError("invalid process ID", err).WithContext("process_id", spec.ID)
	}
	if len(spec.Execution.Command) == 0 {
		return errors.NewValidationError("process command cannot be empty", nil).
			WithContext("process_id", spec.ID)
	}
	if spec.Readiness != nil {
		if err := readiness.ValidateConfig(*spec.Readiness); err != nil {
			return errors.NewValidationError("invalid readiness configuration", err).
				WithContext("process_id", spec.ID)
		}
	}

	o.logger.Infof("Adding process, id: %s, depends_on: %v, readiness: %t",
		spec.ID, spec.DependsOn, spec.Readiness != nil)

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if o.state != OrchestratorStateNotStarted {
		return errors.NewValidationError(
			fmt.Sprintf("processes must be declared before start, current state: %s", o.state),
			nil,
		).WithContext("process_id", spec.ID)
	}

	if _, exists := o.processes[spec.ID]; exists {
		return errors.NewConflictError("process already declared", nil).WithContext("process_id", spec.ID)
	}

	if err := o.graph.Add(spec.ID, spec.DependsOn); err != nil {
		return err
	}

	control := o.controlFactory(processcontrol.ProcessControlOptions{
		Execution:       spec.Execution,
		Readiness:       spec.Readiness,
		GracefulTimeout: spec.GracefulTimeout,
		Clock:           o.options.Clock,
	}, spec.ID, o.logger)

	o.processes[spec.ID] = &processEntry{
		spec:         spec,
		control:      control,
		stateMachine: processstatemachine.NewProcessStateMachine(spec.ID, o.logger),
	}

	return nil
}

// Start launches all declared processes in dependency order, gating each on
// its predecessors' readiness. On any failure everything already started is
// torn down before the error is returned.
func (o *orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	o.mutex.Lock()
	if o.state != OrchestratorStateNotStarted {
		state := o.state
		o.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("orchestrator cannot start twice, current state: %s", state),
			nil,
		)
	}
	o.state = OrchestratorStateStarting
	startCtx, cancel := context.WithCancel(ctx)
	o.startCancel = cancel
	total := len(o.processes)
	o.mutex.Unlock()

	o.logger.Infof("Starting orchestrator, processes: %d", total)

	// The dependency graph must be sound before anything is launched
	if err := o.graph.Validate(); err != nil {
		o.setState(OrchestratorStateStopped)
		cancel()
		return err
	}

	if err := o.runScheduler(startCtx); err != nil {
		o.logger.Errorf("Start failed, tearing down started processes: %v", err)

		o.setState(OrchestratorStateStopping)
		teardownCtx, teardownCancel := o.teardownContext()
		defer teardownCancel()
		if teardownErr := o.stopStartedProcesses(teardownCtx); teardownErr != nil {
			o.logger.Errorf("Teardown after failed start reported errors: %v", teardownErr)
		}
		o.setState(OrchestratorStateStopped)
		return err
	}

	o.setState(OrchestratorStateRunning)
	o.logger.Infof("Orchestrator started, all processes ready")
	return nil
}

// runScheduler is the single coordinating loop: it launches every process
// whose dependencies are ready, independent processes concurrently
func (o *orchestrator) runScheduler(ctx context.Context) error {
	type launchResult struct {
		id  string
		err error
	}

	done := make(map[string]bool)
	started := make(map[string]bool)
	results := make(chan launchResult)
	inFlight := 0
	var firstErr error

	for {
		if firstErr == nil {
			for _, id := range o.graph.Eligible(done, started) {
				started[id] = true
				inFlight++
				launchID := id
				go func() {
					results <- launchResult{id: launchID, err: o.launchProcess(ctx, launchID)}
				}()
			}
		}

		if inFlight == 0 {
			break
		}

		result := <-results
		inFlight--

		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
				// Cancel pending launches and readiness polls immediately
				if cancel := o.getStartCancel(); cancel != nil {
					cancel()
				}
			}
			continue
		}
		done[result.id] = true
	}

	return firstErr
}

// launchProcess starts one process and waits for its readiness
func (o *orchestrator) launchProcess(ctx context.Context, id string) error {
	entry := o.getEntry(id)
	if entry == nil {
		return errors.NewInternalError("process entry disappeared", nil).WithContext("process_id", id)
	}
	sm := entry.stateMachine

	if err := sm.Transition(processstatemachine.ProcessStateStarting, "start", nil); err != nil {
		return err
	}

	if err := entry.control.Start(ctx); err != nil {
		// Nothing is running; close out the handle
		o.quietTransition(sm, processstatemachine.ProcessStateStopping, "start", err)
		o.quietTransition(sm, processstatemachine.ProcessStateStopped, "start", nil)
		return err
	}

	o.recordStarted(id)

	if err := sm.Transition(processstatemachine.ProcessStateRunning, "start", nil); err != nil {
		return err
	}

	if err := entry.control.WaitReady(ctx); err != nil {
		if errors.IsReadinessTimeoutError(err) {
			o.quietTransition(sm, processstatemachine.ProcessStateReadinessTimedOut, "start", err)
		}
		return err
	}

	return sm.Transition(processstatemachine.ProcessStateReady, "start", nil)
}

// Stop terminates all started processes in reverse start order. Idempotent
// and safe to call concurrently with an in-flight Start.
func (o *orchestrator) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mutex.Lock()
	if o.state == OrchestratorStateStopped {
		o.mutex.Unlock()
		o.logger.Debugf("Orchestrator already stopped")
		return nil
	}
	previousState := o.state
	o.state = OrchestratorStateStopping
	cancel := o.startCancel
	o.mutex.Unlock()

	o.logger.Infof("Stopping orchestrator, previous state: %s", previousState)

	// Cancel any in-flight launch or readiness poll before terminating
	if cancel != nil {
		cancel()
	}

	teardownCtx, teardownCancel := o.teardownContextFrom(ctx)
	defer teardownCancel()

	err := o.stopStartedProcesses(teardownCtx)

	o.setState(OrchestratorStateStopped)
	o.logger.Infof("Orchestrator stopped")

	return err
}

// stopStartedProcesses terminates every launched process in reverse start
// order, collecting rather than short-circuiting on failures
func (o *orchestrator) stopStartedProcesses(ctx context.Context) error {
	order := o.getStartOrder()

	errorCollection := errors.NewErrorCollection()
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		entry := o.getEntry(id)
		if entry == nil {
			continue
		}
		if err := o.stopProcessEntry(ctx, id, entry); err != nil {
			errorCollection.Add(errors.NewProcessError("failed to stop process", err).
				WithContext("process_id", id))
		}
	}

	if errorCollection.HasErrors() {
		o.logger.Errorf("Some processes failed to stop: %v", errorCollection.Error())
	}

	return errorCollection.ToError()
}

func (o *orchestrator) stopProcessEntry(ctx context.Context, id string, entry *processEntry) error {
	sm := entry.stateMachine

	if processstatemachine.IsTerminal(sm.GetCurrentState()) {
		return nil
	}

	o.quietTransition(sm, processstatemachine.ProcessStateStopping, "stop", nil)

	err := entry.control.Stop(ctx)

	o.quietTransition(sm, processstatemachine.ProcessStateStopped, "stop", err)

	if err != nil {
		return err
	}

	o.logger.Infof("Process stopped, id: %s", id)
	return nil
}

// quietTransition applies a transition if it is valid and logs otherwise,
// for paths where concurrent teardown may have advanced the state already
func (o *orchestrator) quietTransition(sm *processstatemachine.ProcessStateMachine, to processstatemachine.ProcessState, operation string, cause error) {
	if !sm.CanTransition(to) {
		return
	}
	if err := sm.Transition(to, operation, cause); err != nil {
		o.logger.Debugf("State transition skipped: %v", err)
	}
}

// ValidateSpecGraph checks the dependency graph of a set of specs without
// creating an orchestrator
func ValidateSpecGraph(specs []ProcessSpec) error {
	graph := depgraph.NewGraph()
	for _, spec := range specs {
		if err := graph.Add(spec.ID, spec.DependsOn); err != nil {
			return err
		}
	}
	return graph.Validate()
}

// Status reports any name that is not declared as unknown, including names
// that could never have been declared
func (o *orchestrator) Status(name string) (ProcessStatus, error) {
	entry := o.getEntry(name)
	if entry == nil {
		return ProcessStatus{}, errors.NewNotFoundError("unknown process", nil).
			WithContext("process_id", name)
	}

	return o.statusOf(name, entry), nil
}

func (o *orchestrator) StatusAll() map[string]ProcessStatus {
	entries := o.getAllEntries()

	result := make(map[string]ProcessStatus, len(entries))
	for id, entry := range entries {
		result[id] = o.statusOf(id, entry)
	}
	return result
}

func (o *orchestrator) statusOf(id string, entry *processEntry) ProcessStatus {
	diagnostics := entry.control.GetDiagnostics()
	return ProcessStatus{
		ID:        id,
		State:     entry.stateMachine.GetCurrentState(),
		PID:       diagnostics.PID,
		StartTime: diagnostics.StartTime,
		ExitError: diagnostics.ExitError,
		DependsOn: entry.spec.DependsOn,
	}
}

func (o *orchestrator) GetOrchestratorState() OrchestratorState {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.state
}

// teardownContext builds a fresh bounded context for teardown after a failed
// start, independent of the cancelled start context
func (o *orchestrator) teardownContext() (context.Context, context.CancelFunc) {
	return o.teardownContextFrom(context.Background())
}

func (o *orchestrator) teardownContextFrom(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.options.ForceShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (o *orchestrator) setState(state OrchestratorState) {
	o.mutex.Lock()
	o.state = state
	o.mutex.Unlock()
}

func (o *orchestrator) getEntry(id string) *processEntry {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.processes[id]
}

func (o *orchestrator) getAllEntries() map[string]*processEntry {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	entries := make(map[string]*processEntry, len(o.processes))
	for id, entry := range o.processes {
		entries[id] = entry
	}
	return entries
}

func (o *orchestrator) recordStarted(id string) {
	o.mutex.Lock()
	o.startOrder = append(o.startOrder, id)
	o.mutex.Unlock()
}

func (o *orchestrator) getStartOrder() []string {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	order := make([]string, len(o.startOrder))
	copy(order, o.startOrder)
	return order
}

func (o *orchestrator) getStartCancel() context.CancelFunc {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.startCancel
}
