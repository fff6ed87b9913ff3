package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"

	"github.com/devstack-tools/orchestrator-go/pkg/controlserver"
	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/logging/zaplog"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/orchestratorwiring"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator/processstatemachine"
)

// Exit codes by failure category
const (
	exitOK               = 0
	exitInternal         = 1
	exitSpecInvalid      = 2
	exitCyclicDependency = 3
	exitReadinessTimeout = 4
	exitUnknownProcess   = 5
)

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch errors.CategoryOf(err) {
	case errors.ErrorCategoryValidation:
		return exitSpecInvalid
	case errors.ErrorCategoryCyclicDependency:
		return exitCyclicDependency
	case errors.ErrorCategoryReadinessTimeout:
		return exitReadinessTimeout
	case errors.ErrorCategoryNotFound:
		return exitUnknownProcess
	default:
		return exitInternal
	}
}

type globalOptions struct {
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error), overrides the configured level"`
	Control  string `long:"control" description:"Control endpoint URL (tcp://host:port or unix:///path)"`
}

var global globalOptions

func logPrefix(component string) string {
	return fmt.Sprintf("component: %s , ", component)
}

func newLogger(level string) (logging.Logger, *zaplog.ZapSprintfLogger) {
	zapLogger := zaplog.NewZapSprintfLogger(level)

	logger := logging.NewLogger(
		logPrefix("orchestrator"), logging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	return logger, zapLogger
}

// controlClient resolves the control endpoint from the --control override,
// the configuration file, or the platform default, in that order
func controlClient(configFile string) (*controlserver.Client, error) {
	var config *orchestrator.OrchestratorConfig
	if global.Control == "" && configFile != "" {
		loaded, err := orchestrator.LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	transport, err := orchestratorwiring.ControlTransport(config, global.Control)
	if err != nil {
		return nil, err
	}

	return controlserver.NewClient(transport)
}

// start

type startCommand struct {
	Config      string `long:"config" short:"c" description:"Configuration file path (YAML)" required:"true"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
}

func (c *startCommand) Execute(args []string) error {
	level := global.LogLevel
	if level == "" {
		// Without an override the configured level applies
		if config, err := orchestrator.LoadConfigFromFile(c.Config); err == nil {
			level = config.Orchestrator.LogLevel
		} else {
			level = "info"
		}
	}

	logger, zapLogger := newLogger(level)
	defer zapLogger.Sync()

	return orchestratorwiring.Run(orchestratorwiring.RunOptions{
		ConfigFile:  c.Config,
		RunDuration: c.RunDuration,
		ControlURL:  global.Control,
		Logger:      logger,
	})
}

// stop

type stopCommand struct {
	Config string `long:"config" short:"c" description:"Configuration file the orchestrator was started with"`
}

func (c *stopCommand) Execute(args []string) error {
	client, err := controlClient(c.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Shutdown(ctx); err != nil {
		return err
	}

	fmt.Println("Shutdown requested")
	return nil
}

// status

type statusCommand struct {
	Config string `long:"config" short:"c" description:"Configuration file the orchestrator was started with"`
	JSON   bool   `long:"json" description:"Output status as JSON"`
	Args   struct {
		Process string `positional-arg-name:"process" description:"Limit output to a single process"`
	} `positional-args:"yes"`
}

func (c *statusCommand) Execute(args []string) error {
	client, err := controlClient(c.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.Args.Process != "" {
		status, err := client.StatusOne(ctx, c.Args.Process)
		if err != nil {
			return err
		}
		if c.JSON {
			return printJSON(status)
		}
		printProcessStatus(*status)
		return nil
	}

	response, err := client.Status(ctx)
	if err != nil {
		return err
	}

	if c.JSON {
		return printJSON(response)
	}

	fmt.Printf("Orchestrator: %s (session %s)\n\n", response.OrchestratorState, response.SessionID)

	ids := make([]string, 0, len(response.Processes))
	for id := range response.Processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		printProcessStatus(response.Processes[id])
	}
	return nil
}

func printProcessStatus(status orchestrator.ProcessStatus) {
	fmt.Printf("  %-20s %-22s", status.ID, colorizeState(status.State))
	if status.PID > 0 {
		fmt.Printf(" pid=%d", status.PID)
	}
	if len(status.DependsOn) > 0 {
		fmt.Printf(" depends_on=%v", status.DependsOn)
	}
	if status.ExitError != "" {
		fmt.Printf(" exit_error=%q", status.ExitError)
	}
	fmt.Println()
}

func colorizeState(state processstatemachine.ProcessState) string {
	switch state {
	case processstatemachine.ProcessStateReady:
		return color.GreenString(string(state))
	case processstatemachine.ProcessStateStarting, processstatemachine.ProcessStateRunning, processstatemachine.ProcessStateStopping:
		return color.YellowString(string(state))
	case processstatemachine.ProcessStateReadinessTimedOut:
		return color.RedString(string(state))
	default:
		return string(state)
	}
}

func printJSON(data interface{}) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to encode status", err)
	}
	fmt.Println(string(encoded))
	return nil
}

// validate

type validateCommand struct {
	Config string `long:"config" short:"c" description:"Configuration file path (YAML)" required:"true"`
}

func (c *validateCommand) Execute(args []string) error {
	if err := orchestratorwiring.ValidateConfigFile(c.Config); err != nil {
		return err
	}

	config, err := orchestrator.LoadConfigFromFile(c.Config)
	if err != nil {
		return err
	}

	summary := orchestrator.GetConfigSummary(config)
	fmt.Printf("Configuration is valid: %d processes (%d enabled)\n",
		summary.TotalProcesses, summary.EnabledProcesses)
	for _, process := range summary.Processes {
		marker := color.GreenString("enabled")
		if !process.Enabled {
			marker = "disabled"
		}
		fmt.Printf("  %-20s %s", process.ID, marker)
		if len(process.DependsOn) > 0 {
			fmt.Printf(" depends_on=%v", process.DependsOn)
		}
		if process.ReadinessType != "" {
			fmt.Printf(" readiness=%s", process.ReadinessType)
		}
		fmt.Println()
	}
	return nil
}

func main() {
	parser := flags.NewParser(&global, flags.HelpFlag)

	parser.AddCommand("start", "Start the development environment",
		"Loads the configuration and launches all processes in dependency order", &startCommand{})
	parser.AddCommand("stop", "Stop a running orchestrator",
		"Requests a coordinated teardown over the control endpoint", &stopCommand{})
	parser.AddCommand("status", "Show process status",
		"Queries the control endpoint of a running orchestrator", &statusCommand{})
	parser.AddCommand("validate", "Validate a configuration file",
		"Loads and validates the configuration without starting anything", &validateCommand{})

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(exitOK)
			}
			fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
			os.Exit(exitInternal)
		}

		// Command errors carry their failure category
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
