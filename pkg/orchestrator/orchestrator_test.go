package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processcontrol"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processstatemachine"
	"github.com/devstack-tools/orchestrator-go/pkg/process"
)

// callRecorder captures lifecycle events across fake controls in order
type callRecorder struct {
	mutex  sync.Mutex
	events []string
}

func (r *callRecorder) record(event string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *callRecorder) all() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	events := make([]string, len(r.events))
	copy(events, r.events)
	return events
}

func (r *callRecorder) indexOf(event string) int {
	for i, e := range r.all() {
		if e == event {
			return i
		}
	}
	return -1
}

func (r *callRecorder) has(event string) bool {
	return r.indexOf(event) >= 0
}

// fakeBehavior customizes a fake control per process ID
type fakeBehavior struct {
	startErr       error
	readyErr       error
	stopErr        error
	readyDelay     time.Duration
	blockUntilStop bool // WaitReady blocks until the context is cancelled
}

type fakeControl struct {
	id       string
	recorder *callRecorder
	behavior fakeBehavior
}

func (c *fakeControl) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.NewCancelledError("launch cancelled", ctx.Err())
	}
	if c.behavior.startErr != nil {
		return c.behavior.startErr
	}
	c.recorder.record("start:" + c.id)
	return nil
}

func (c *fakeControl) WaitReady(ctx context.Context) error {
	if c.behavior.blockUntilStop {
		<-ctx.Done()
		return errors.NewCancelledError("readiness poll cancelled", ctx.Err())
	}
	if c.behavior.readyDelay > 0 {
		time.Sleep(c.behavior.readyDelay)
	}
	if c.behavior.readyErr != nil {
		return c.behavior.readyErr
	}
	c.recorder.record("ready:" + c.id)
	return nil
}

func (c *fakeControl) Stop(ctx context.Context) error {
	c.recorder.record("stop:" + c.id)
	return c.behavior.stopErr
}

func (c *fakeControl) GetDiagnostics() processcontrol.ProcessDiagnostics {
	return processcontrol.ProcessDiagnostics{}
}

type testHarness struct {
	orchestrator *orchestrator
	recorder     *callRecorder
	behaviors    map[string]fakeBehavior
}

func newTestHarness() *testHarness {
	h := &testHarness{
		recorder:  &callRecorder{},
		behaviors: make(map[string]fakeBehavior),
	}
	o := NewOrchestrator(OrchestratorOptions{ForceShutdownTimeout: 5 * time.Second}, logging.NewNullLogger()).(*orchestrator)
	o.controlFactory = func(options processcontrol.ProcessControlOptions, processID string, logger logging.Logger) processcontrol.ProcessControl {
		return &fakeControl{
			id:       processID,
			recorder: h.recorder,
			behavior: h.behaviors[processID],
		}
	}
	h.orchestrator = o
	return h
}

func (h *testHarness) addProcess(t *testing.T, id string, dependsOn ...string) {
	t.Helper()
	require.NoError(t, h.orchestrator.AddProcess(ProcessSpec{
		ID:        id,
		Execution: process.ExecutionConfig{Command: []string{"/bin/true"}},
		DependsOn: dependsOn,
	}))
}

func (h *testHarness) stateOf(t *testing.T, id string) processstatemachine.ProcessState {
	t.Helper()
	status, err := h.orchestrator.Status(id)
	require.NoError(t, err)
	return status.State
}

func TestOrchestrator_AddProcess(t *testing.T) {
	t.Run("duplicate_rejected", func(t *testing.T) {
		h := newTestHarness()
		h.addProcess(t, "api")
		err := h.orchestrator.AddProcess(ProcessSpec{
			ID:        "api",
			Execution: process.ExecutionConfig{Command: []string{"/bin/true"}},
		})
		assert.True(t, errors.IsConflictError(err))
	})

	t.Run("invalid_id_rejected", func(t *testing.T) {
		h := newTestHarness()
		err := h.orchestrator.AddProcess(ProcessSpec{
			ID:        "has spaces",
			Execution: process.ExecutionConfig{Command: []string{"/bin/true"}},
		})
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("empty_command_rejected", func(t *testing.T) {
		h := newTestHarness()
		err := h.orchestrator.AddProcess(ProcessSpec{ID: "api"})
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("rejected_after_start", func(t *testing.T) {
		h := newTestHarness()
		h.addProcess(t, "api")
		require.NoError(t, h.orchestrator.Start(context.Background()))
		defer h.orchestrator.Stop(context.Background())

		err := h.orchestrator.AddProcess(ProcessSpec{
			ID:        "late",
			Execution: process.ExecutionConfig{Command: []string{"/bin/true"}},
		})
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestOrchestrator_Start_DependencyOrder(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "api")
	h.addProcess(t, "worker", "api")
	h.addProcess(t, "dashboard", "worker")

	require.NoError(t, h.orchestrator.Start(context.Background()))
	defer h.orchestrator.Stop(context.Background())

	// Each process launches only after its dependency is ready
	assert.Greater(t, h.recorder.indexOf("start:worker"), h.recorder.indexOf("ready:api"))
	assert.Greater(t, h.recorder.indexOf("start:dashboard"), h.recorder.indexOf("ready:worker"))

	for _, id := range []string{"api", "worker", "dashboard"} {
		assert.Equal(t, processstatemachine.ProcessStateReady, h.stateOf(t, id))
	}
	assert.Equal(t, OrchestratorStateRunning, h.orchestrator.GetOrchestratorState())
}

func TestOrchestrator_Start_IndependentProcessesRunConcurrently(t *testing.T) {
	h := newTestHarness()
	h.behaviors["api"] = fakeBehavior{readyDelay: 50 * time.Millisecond}
	h.behaviors["cache"] = fakeBehavior{readyDelay: 50 * time.Millisecond}
	h.addProcess(t, "api")
	h.addProcess(t, "cache")

	start := time.Now()
	require.NoError(t, h.orchestrator.Start(context.Background()))
	defer h.orchestrator.Stop(context.Background())
	elapsed := time.Since(start)

	// Both launches precede both readiness events, and the total time is
	// far below the serial sum
	assert.Greater(t, h.recorder.indexOf("ready:api"), h.recorder.indexOf("start:cache"))
	assert.Greater(t, h.recorder.indexOf("ready:cache"), h.recorder.indexOf("start:api"))
	assert.Less(t, elapsed, 95*time.Millisecond)
}

func TestOrchestrator_Start_CyclicDependency(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "a", "b")
	h.addProcess(t, "b", "a")

	err := h.orchestrator.Start(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.IsCyclicDependencyError(err))

	// Zero processes launched
	assert.Empty(t, h.recorder.all())
	assert.Equal(t, processstatemachine.ProcessStatePending, h.stateOf(t, "a"))
	assert.Equal(t, processstatemachine.ProcessStatePending, h.stateOf(t, "b"))
}

func TestOrchestrator_Start_UndeclaredDependency(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "dashboard", "api")

	err := h.orchestrator.Start(context.Background())
	assert.True(t, errors.IsValidationError(err))
	assert.Empty(t, h.recorder.all())
}

func TestOrchestrator_Start_ReadinessTimeoutTriggersTeardown(t *testing.T) {
	h := newTestHarness()
	h.behaviors["api"] = fakeBehavior{
		readyErr: errors.NewReadinessTimeoutError("readiness check timed out", nil).
			WithContext("process_id", "api"),
	}
	h.addProcess(t, "cache")
	h.addProcess(t, "api", "cache")
	h.addProcess(t, "dashboard", "api")

	err := h.orchestrator.Start(context.Background())
	assert.Error(t, err)
	assert.True(t, errors.IsReadinessTimeoutError(err))

	// The dependent never launched, the started processes were torn down
	assert.False(t, h.recorder.has("start:dashboard"))
	assert.True(t, h.recorder.has("stop:api"))
	assert.True(t, h.recorder.has("stop:cache"))

	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "api"))
	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "cache"))
	assert.Equal(t, processstatemachine.ProcessStatePending, h.stateOf(t, "dashboard"))
	assert.Equal(t, OrchestratorStateStopped, h.orchestrator.GetOrchestratorState())
}

func TestOrchestrator_Start_LaunchFailureTriggersTeardown(t *testing.T) {
	h := newTestHarness()
	h.behaviors["dashboard"] = fakeBehavior{
		startErr: errors.NewValidationError("command does not resolve to an executable", nil),
	}
	h.addProcess(t, "api")
	h.addProcess(t, "dashboard", "api")

	err := h.orchestrator.Start(context.Background())
	assert.True(t, errors.IsValidationError(err))
	assert.True(t, h.recorder.has("stop:api"))
	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "api"))
}

func TestOrchestrator_Stop_ReverseStartOrder(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "api")
	h.addProcess(t, "dashboard", "api")

	require.NoError(t, h.orchestrator.Start(context.Background()))
	require.NoError(t, h.orchestrator.Stop(context.Background()))

	assert.Greater(t, h.recorder.indexOf("stop:api"), h.recorder.indexOf("stop:dashboard"))
	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "api"))
	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "dashboard"))
}

func TestOrchestrator_Stop_Idempotent(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "api")

	require.NoError(t, h.orchestrator.Start(context.Background()))
	require.NoError(t, h.orchestrator.Stop(context.Background()))

	stops := 0
	for _, event := range h.recorder.all() {
		if event == "stop:api" {
			stops++
		}
	}
	require.Equal(t, 1, stops)

	// Second stop is a no-op without error
	assert.NoError(t, h.orchestrator.Stop(context.Background()))
	assert.Equal(t, 1, func() int {
		n := 0
		for _, event := range h.recorder.all() {
			if event == "stop:api" {
				n++
			}
		}
		return n
	}())
	assert.Equal(t, processstatemachine.ProcessStateStopped, h.stateOf(t, "api"))
}

func TestOrchestrator_Stop_DuringInFlightStart(t *testing.T) {
	h := newTestHarness()
	h.behaviors["api"] = fakeBehavior{blockUntilStop: true}
	h.addProcess(t, "api")
	h.addProcess(t, "dashboard", "api")

	startResult := make(chan error, 1)
	go func() {
		startResult <- h.orchestrator.Start(context.Background())
	}()

	// Wait until the launch is in flight, stuck in its readiness poll
	require.Eventually(t, func() bool {
		return h.recorder.has("start:api")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.orchestrator.Stop(context.Background()))

	select {
	case err := <-startResult:
		assert.Error(t, err)
		assert.True(t, errors.IsCancelledError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after stop")
	}

	assert.False(t, h.recorder.has("start:dashboard"))
	assert.Equal(t, OrchestratorStateStopped, h.orchestrator.GetOrchestratorState())
}

func TestOrchestrator_Status(t *testing.T) {
	h := newTestHarness()
	h.addProcess(t, "api")

	t.Run("declared_process", func(t *testing.T) {
		status, err := h.orchestrator.Status("api")
		require.NoError(t, err)
		assert.Equal(t, "api", status.ID)
		assert.Equal(t, processstatemachine.ProcessStatePending, status.State)
	})

	t.Run("unknown_process", func(t *testing.T) {
		_, err := h.orchestrator.Status("nope")
		assert.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("undeclarable_name_is_unknown", func(t *testing.T) {
		// Names that fail ID validation were never declared either
		for _, name := range []string{"", "has spaces", "-leading-dash"} {
			_, err := h.orchestrator.Status(name)
			assert.Error(t, err, name)
			assert.True(t, errors.IsNotFoundError(err), name)
		}
	})

	t.Run("status_all", func(t *testing.T) {
		all := h.orchestrator.StatusAll()
		assert.Len(t, all, 1)
		assert.Contains(t, all, "api")
	})
}
