package orchestratorwiring

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/devstack-tools/orchestrator-go/pkg/controlserver"
	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator"
)

// RunOptions configures a foreground orchestrator run
type RunOptions struct {
	// ConfigFile is the YAML configuration to load
	ConfigFile string

	// RunDuration limits the run to this many seconds, 0 for no limit
	RunDuration int

	// ControlURL overrides the configured control endpoint (tcp://, unix://)
	ControlURL string

	Logger logging.Logger
}

func (o *RunOptions) OptLogger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNullLogger()
	}
	return o.Logger
}

// Run loads the configuration, launches all processes in dependency order and
// blocks until a signal, a shutdown request over the control API, or the run
// duration elapses. Teardown happens before Run returns.
func Run(options RunOptions) error {
	logger := options.OptLogger()

	logger.Infof("Orchestrator runner starting...")
	logger.Infof("Platform: OS=%s, Arch=%s, CPUs=%d, Go=%s",
		runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), runtime.Version())

	// Separate contexts: one for the run duration, one for components
	componentCtx := context.Background()
	operationCtx := componentCtx
	var operationCancel context.CancelFunc

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", options.RunDuration)
		operationCtx, operationCancel = context.WithTimeout(componentCtx, time.Duration(options.RunDuration)*time.Second)
		defer operationCancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)

	config, err := orchestrator.LoadConfigFromFile(options.ConfigFile)
	if err != nil {
		return err
	}
	if err := orchestrator.ValidateConfig(config); err != nil {
		return err
	}

	logger.Infof("Configuration loaded successfully from %s", options.ConfigFile)

	orchestratorInstance := orchestrator.NewOrchestrator(orchestrator.OrchestratorOptions{
		ForceShutdownTimeout: config.Orchestrator.ForceShutdownTimeout,
	}, logger)

	specs, err := orchestrator.CreateSpecsFromConfig(config, logger)
	if err != nil {
		return err
	}

	logger.Infof("Created %d process specs", len(specs))

	for _, spec := range specs {
		if err := orchestratorInstance.AddProcess(spec); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("failed to add process: %s", spec.ID),
				err,
			).WithContext("process_id", spec.ID)
		}
		logger.Infof("Added process: %s", spec.ID)
	}

	// Shutdown requests over the control API land in the same select as
	// OS signals
	shutdownRequested := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdownRequested <- struct{}{}:
		default:
		}
	}

	transport, err := ControlTransport(config, options.ControlURL)
	if err != nil {
		return err
	}

	server, err := controlserver.NewServer(orchestratorInstance, requestShutdown, transport, logger)
	if err != nil {
		return errors.NewIOError("failed to create control server", err)
	}
	if err := server.Start(componentCtx); err != nil {
		return errors.NewIOError("failed to start control server", err)
	}
	defer server.Stop(context.Background())

	logger.Infof("Control endpoint listening on %s", server.GetAddress())
	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Starting processes...")

	startResult := make(chan error, 1)
	go func() {
		startResult <- orchestratorInstance.Start(componentCtx)
	}()

	select {
	case err := <-startResult:
		if err != nil {
			// Teardown of anything already started happened inside Start
			logger.Errorf("Start failed: %v", err)
			return err
		}
		logger.Infof("All processes started and ready, orchestrator is fully operational")

	case receivedSignal := <-sig:
		logger.Infof("Received signal during startup: %v", receivedSignal)
		orchestratorInstance.Stop(context.Background())
		<-startResult
		return nil

	case <-shutdownRequested:
		logger.Infof("Shutdown requested during startup")
		orchestratorInstance.Stop(context.Background())
		<-startResult
		return nil
	}

	// Wait for a shutdown trigger
	select {
	case receivedSignal := <-sig:
		logger.Infof("Orchestrator runner received signal: %v", receivedSignal)
	case <-shutdownRequested:
		logger.Infof("Orchestrator runner received shutdown request")
	case <-operationCtx.Done():
		logger.Infof("Orchestrator runner timed out")
	}

	logger.Infof("Ready to stop orchestrator...")

	// Reset context to background to enable graceful shutdown
	err = orchestratorInstance.Stop(context.Background())

	logger.Infof("Orchestrator runner stopped")

	return err
}

// ControlTransport resolves the control endpoint from the override URL or
// the configuration, falling back to the platform default
func ControlTransport(config *orchestrator.OrchestratorConfig, controlURL string) (controlserver.TransportConfig, error) {
	if controlURL != "" {
		return controlserver.ParseControlURL(controlURL)
	}
	if config == nil {
		return controlserver.DefaultTransportConfig(), nil
	}

	control := config.Orchestrator.Control
	switch control.Transport {
	case "tcp":
		return controlserver.TransportConfig{
			TransportType: controlserver.TransportTCP,
			TCPAddress:    control.TCPAddress,
		}, nil
	case "uds":
		return controlserver.TransportConfig{
			TransportType: controlserver.TransportUDS,
			SocketPath:    control.SocketPath,
		}, nil
	case "":
		return controlserver.DefaultTransportConfig(), nil
	default:
		return controlserver.TransportConfig{}, errors.NewValidationError(
			fmt.Sprintf("invalid control transport: %s", control.Transport),
			nil,
		)
	}
}

// ValidateConfigFile validates a configuration file without running anything.
// This is useful for configuration testing and CI/CD validation.
func ValidateConfigFile(configFile string) error {
	config, err := orchestrator.LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}

	if err := orchestrator.ValidateConfig(config); err != nil {
		return err
	}

	// The orchestrator itself enforces acyclicity at start, run the same
	// check here so validate catches cycles without launching anything
	specs, err := orchestrator.CreateSpecsFromConfig(config, logging.NewNullLogger())
	if err != nil {
		return err
	}

	return orchestrator.ValidateSpecGraph(specs)
}
