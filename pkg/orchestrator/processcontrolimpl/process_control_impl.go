package processcontrolimpl

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processcontrol"
	"github.com/devstack-tools/orchestrator-go/pkg/process"
	"github.com/devstack-tools/orchestrator-go/pkg/readiness"
)

const forcedTerminationWait = 5 * time.Second

type controlState string

const (
	controlStateIdle     controlState = "idle"
	controlStateStarting controlState = "starting"
	controlStateRunning  controlState = "running"
	controlStateStopping controlState = "stopping"
	controlStateStopped  controlState = "stopped"
)

type processControl struct {
	options   processcontrol.ProcessControlOptions
	processID string
	logger    logging.Logger
	clock     clockwork.Clock

	// Running process tracking
	process           *os.Process
	output            io.ReadCloser
	processDoneSignal chan error

	state     controlState
	startTime *time.Time
	exitError error
	exited    bool

	mutex sync.Mutex
}

// NewProcessControl creates a control for a single process spec
func NewProcessControl(options processcontrol.ProcessControlOptions, processID string, logger logging.Logger) processcontrol.ProcessControl {
	clock := options.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &processControl{
		options:   options,
		processID: processID,
		logger:    logger,
		clock:     clock,
		state:     controlStateIdle,
	}
}

func (pc *processControl) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if pc.state != controlStateIdle {
		return errors.NewValidationError("process control cannot start twice", nil).
			WithContext("process_id", pc.processID).
			WithContext("state", string(pc.state))
	}
	pc.state = controlStateStarting

	executeCmd := process.NewStdExecuteCmd(pc.options.Execution, pc.processID, pc.logger)
	proc, output, err := executeCmd(ctx)
	if err != nil {
		pc.state = controlStateStopped
		return err
	}

	now := time.Now()
	pc.process = proc
	pc.output = output
	pc.startTime = &now

	processDoneSignal := make(chan error, 1)
	go func() {
		state, waitErr := proc.Wait()
		pc.recordExit(state, waitErr)
		if waitErr != nil {
			processDoneSignal <- errors.NewProcessError("process wait failed", waitErr).
				WithContext("pid", proc.Pid)
		} else {
			processDoneSignal <- nil
		}
	}()
	pc.processDoneSignal = processDoneSignal

	go pc.forwardOutput(output)

	pc.state = controlStateRunning

	pc.logger.Infof("Process control started, process: %s, PID: %d", pc.processID, proc.Pid)
	return nil
}

// recordExit captures the exit outcome for diagnostics
func (pc *processControl) recordExit(state *os.ProcessState, waitErr error) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	pc.exited = true
	if waitErr != nil {
		pc.exitError = waitErr
		pc.logger.Warnf("Process wait failed, process: %s, error: %v", pc.processID, waitErr)
	} else if state != nil && !state.Success() {
		pc.exitError = errors.NewProcessError(state.String(), nil)
		pc.logger.Infof("Process exited, process: %s, status: %v", pc.processID, state)
	} else {
		pc.logger.Infof("Process exited cleanly, process: %s", pc.processID)
	}
}

// forwardOutput relays the child's combined output into the orchestrator log
func (pc *processControl) forwardOutput(output io.Reader) {
	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		pc.logger.Infof("[%s] %s", pc.processID, scanner.Text())
	}
}

func (pc *processControl) WaitReady(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	pc.mutex.Lock()
	readinessConfig := pc.options.Readiness
	doneSignal := pc.processDoneSignal
	state := pc.state
	pc.mutex.Unlock()

	if state != controlStateRunning {
		return errors.NewValidationError("process is not running", nil).
			WithContext("process_id", pc.processID).
			WithContext("state", string(state))
	}

	if readinessConfig == nil {
		return nil
	}

	// Fill in backoff defaults for specs declared through the API rather
	// than loaded from configuration
	pollConfig := *readinessConfig
	readiness.SetConfigDefaults(&pollConfig)

	poller, err := readiness.NewPoller(pollConfig, pc.processID, pc.clock, pc.logger)
	if err != nil {
		return err
	}

	// A process that dies while being polled fails fast instead of burning
	// the whole readiness budget
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pollResult := make(chan error, 1)
	go func() {
		pollResult <- poller.Poll(pollCtx)
	}()

	select {
	case err := <-pollResult:
		return err
	case waitErr := <-doneSignal:
		// Re-publish the exit outcome so Stop still observes it
		doneSignal <- waitErr
		cancel()
		<-pollResult
		return errors.NewProcessError("process exited before becoming ready", waitErr).
			WithContext("process_id", pc.processID)
	}
}

func (pc *processControl) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Phase 1: state validation and planning under lock
	pc.mutex.Lock()
	switch pc.state {
	case controlStateIdle, controlStateStopped:
		pc.state = controlStateStopped
		pc.mutex.Unlock()
		pc.logger.Debugf("Process already stopped, process: %s", pc.processID)
		return nil
	case controlStateStopping:
		pc.mutex.Unlock()
		pc.logger.Debugf("Process already stopping, process: %s", pc.processID)
		return nil
	}
	pc.state = controlStateStopping
	procToTerminate := pc.process
	doneSignal := pc.processDoneSignal
	pc.mutex.Unlock()

	// Phase 2: termination outside the lock
	var terminationError error
	if procToTerminate != nil {
		if err := pc.terminateProcess(ctx, procToTerminate, doneSignal); err != nil {
			pc.logger.Errorf("Failed to terminate process, process: %s, error: %v", pc.processID, err)
			terminationError = err
		}
	}

	// Phase 3: final cleanup and state transition
	pc.mutex.Lock()
	if pc.output != nil {
		pc.output.Close()
		pc.output = nil
	}
	pc.process = nil
	pc.state = controlStateStopped
	pc.mutex.Unlock()

	if terminationError != nil {
		return terminationError
	}

	pc.logger.Infof("Process control stopped, process: %s", pc.processID)
	return nil
}

// terminateProcess tries graceful termination first and escalates to a forced
// kill after the grace period
func (pc *processControl) terminateProcess(ctx context.Context, proc *os.Process, done chan error) error {
	pid := proc.Pid

	gracefulTimeout := pc.options.GracefulTimeout
	if gracefulTimeout <= 0 {
		gracefulTimeout = 20 * time.Second
	}

	pc.logger.Infof("Sending termination signal to PID %d, grace period: %v", pid, gracefulTimeout)
	if err := process.SendTerminationSignal(pid); err != nil {
		pc.logger.Warnf("Failed to send termination signal to PID %d: %v", pid, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("process termination failed", err).WithContext("pid", pid)
		}
		pc.logger.Infof("Process PID %d terminated gracefully", pid)
		return nil
	case <-time.After(gracefulTimeout):
		pc.logger.Warnf("Process PID %d did not terminate within %v, forcing termination", pid, gracefulTimeout)
	case <-ctx.Done():
		pc.logger.Warnf("Context cancelled during graceful termination of PID %d, forcing termination", pid)
	}

	if err := proc.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("forced termination failed", err).WithContext("pid", pid)
		}
		pc.logger.Infof("Process PID %d force terminated", pid)
		return nil
	case <-time.After(forcedTerminationWait):
		return errors.NewTimeoutError("process did not terminate even after force termination", nil).
			WithContext("pid", pid)
	}
}

func (pc *processControl) GetDiagnostics() processcontrol.ProcessDiagnostics {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	diagnostics := processcontrol.ProcessDiagnostics{
		StartTime: pc.startTime,
		Exited:    pc.exited,
	}
	if pc.process != nil {
		diagnostics.PID = pc.process.Pid
	}
	if pc.exitError != nil {
		diagnostics.ExitError = pc.exitError.Error()
	}
	return diagnostics
}
