package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/process"
	"github.com/devstack-tools/orchestrator-go/pkg/readiness"
)

// OrchestratorConfig represents the top-level configuration file structure
type OrchestratorConfig struct {
	Orchestrator OrchestratorConfigOptions `yaml:"orchestrator"`
	Processes    []ProcessConfig           `yaml:"processes"`
}

// OrchestratorConfigOptions represents orchestrator-level configuration
type OrchestratorConfigOptions struct {
	LogLevel             string        `yaml:"log_level,omitempty"`
	Control              ControlConfig `yaml:"control,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// ControlConfig declares where the control API listens
type ControlConfig struct {
	// Transport is "tcp" or "uds", empty for the platform default
	Transport string `yaml:"transport,omitempty"`

	// TCPAddress is the host:port for tcp transport
	TCPAddress string `yaml:"tcp_address,omitempty"`

	// SocketPath is the Unix domain socket path for uds transport
	SocketPath string `yaml:"socket_path,omitempty"`
}

// ProcessConfig represents a single process declaration
type ProcessConfig struct {
	ID               string            `yaml:"id"`
	Enabled          *bool             `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Command          []string          `yaml:"command"`
	WorkingDirectory string            `yaml:"working_directory,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty"`
	DependsOn        []string          `yaml:"depends_on,omitempty"`
	Readiness        *readiness.Config `yaml:"readiness,omitempty"`
	GracefulTimeout  time.Duration     `yaml:"graceful_timeout,omitempty"`
}

// LoadConfigFromFile loads orchestrator configuration from a YAML file
func LoadConfigFromFile(filename string) (*OrchestratorConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config OrchestratorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *OrchestratorConfig) {
	if config.Orchestrator.LogLevel == "" {
		config.Orchestrator.LogLevel = "info"
	}
	if config.Orchestrator.ForceShutdownTimeout == 0 {
		config.Orchestrator.ForceShutdownTimeout = 30 * time.Second
	}

	for i := range config.Processes {
		processConfig := &config.Processes[i]

		// Default enabled to true if not specified
		if processConfig.Enabled == nil {
			enabled := true
			processConfig.Enabled = &enabled
		}

		if processConfig.GracefulTimeout == 0 {
			processConfig.GracefulTimeout = 20 * time.Second
		}

		if processConfig.Readiness != nil {
			readiness.SetConfigDefaults(processConfig.Readiness)
		}
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *OrchestratorConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateOrchestratorConfig(&config.Orchestrator); err != nil {
		return errors.NewValidationError("invalid orchestrator configuration", err)
	}

	if err := validateProcessesConfig(config.Processes); err != nil {
		return errors.NewValidationError("invalid processes configuration", err)
	}

	return nil
}

func validateOrchestratorConfig(config *OrchestratorConfigOptions) error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			return errors.NewValidationError(
				fmt.Sprintf("invalid log level: %s", config.LogLevel),
				nil,
			).WithContext("valid_levels", "debug, info, warn, error")
		}
	}

	switch config.Control.Transport {
	case "", "tcp", "uds":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid control transport: %s", config.Control.Transport),
			nil,
		).WithContext("valid_transports", "tcp, uds")
	}

	return nil
}

func validateProcessesConfig(processes []ProcessConfig) error {
	if len(processes) == 0 {
		return nil // Allow empty process list
	}

	// First pass: IDs, commands and readiness blocks
	declared := make(map[string]int)
	for i, processConfig := range processes {
		if err := ValidateProcessID(processConfig.ID); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid process ID at index %d", i),
				err,
			).WithContext("process_id", processConfig.ID)
		}

		if prevIndex, exists := declared[processConfig.ID]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate process ID '%s' found at indices %d and %d", processConfig.ID, prevIndex, i),
				nil,
			)
		}
		declared[processConfig.ID] = i

		if len(processConfig.Command) == 0 {
			return errors.NewValidationError(
				fmt.Sprintf("process '%s' has an empty command", processConfig.ID),
				nil,
			).WithContext("process_id", processConfig.ID)
		}

		if processConfig.Readiness != nil {
			if err := readiness.ValidateConfig(*processConfig.Readiness); err != nil {
				return errors.NewValidationError(
					fmt.Sprintf("invalid readiness configuration for process '%s'", processConfig.ID),
					err,
				).WithContext("process_id", processConfig.ID)
			}
		}
	}

	// Second pass: dependency targets must be declared and enabled
	enabled := make(map[string]bool)
	for _, processConfig := range processes {
		enabled[processConfig.ID] = processConfig.Enabled == nil || *processConfig.Enabled
	}
	for _, processConfig := range processes {
		if !enabled[processConfig.ID] {
			continue
		}
		for _, dep := range processConfig.DependsOn {
			if _, exists := enabled[dep]; !exists {
				return errors.NewValidationError(
					fmt.Sprintf("process '%s' depends on undeclared process '%s'", processConfig.ID, dep),
					nil,
				).WithContext("process_id", processConfig.ID).WithContext("depends_on", dep)
			}
			if !enabled[dep] {
				return errors.NewValidationError(
					fmt.Sprintf("process '%s' depends on disabled process '%s'", processConfig.ID, dep),
					nil,
				).WithContext("process_id", processConfig.ID).WithContext("depends_on", dep)
			}
		}
	}

	return nil
}

// CreateSpecsFromConfig creates process specs from configuration, skipping
// disabled processes
func CreateSpecsFromConfig(config *OrchestratorConfig, logger logging.Logger) ([]ProcessSpec, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	var specs []ProcessSpec
	for _, processConfig := range config.Processes {
		if processConfig.Enabled != nil && !*processConfig.Enabled {
			logger.Infof("Skipping disabled process, id: %s", processConfig.ID)
			continue
		}

		specs = append(specs, ProcessSpec{
			ID: processConfig.ID,
			Execution: process.ExecutionConfig{
				Command:          processConfig.Command,
				WorkingDirectory: processConfig.WorkingDirectory,
				Environment:      processConfig.Environment,
			},
			Readiness:       processConfig.Readiness,
			DependsOn:       processConfig.DependsOn,
			GracefulTimeout: processConfig.GracefulTimeout,
		})
	}

	return specs, nil
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	LogLevel         string           `json:"log_level"`
	TotalProcesses   int              `json:"total_processes"`
	EnabledProcesses int              `json:"enabled_processes"`
	Processes        []ProcessSummary `json:"processes"`
}

// ProcessSummary provides a summary of a single process declaration
type ProcessSummary struct {
	ID            string   `json:"id"`
	Enabled       bool     `json:"enabled"`
	Command       string   `json:"command,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
	ReadinessType string   `json:"readiness_type,omitempty"`
}

// GetConfigSummary returns a human-readable summary of the configuration,
// useful for debugging and operational visibility
func GetConfigSummary(config *OrchestratorConfig) ConfigSummary {
	summary := ConfigSummary{
		LogLevel:  config.Orchestrator.LogLevel,
		Processes: make([]ProcessSummary, 0, len(config.Processes)),
	}

	for _, processConfig := range config.Processes {
		enabled := processConfig.Enabled == nil || *processConfig.Enabled

		processSummary := ProcessSummary{
			ID:        processConfig.ID,
			Enabled:   enabled,
			DependsOn: processConfig.DependsOn,
		}
		if len(processConfig.Command) > 0 {
			processSummary.Command = processConfig.Command[0]
		}
		if processConfig.Readiness != nil {
			processSummary.ReadinessType = string(processConfig.Readiness.Type)
		}

		summary.Processes = append(summary.Processes, processSummary)
		if enabled {
			summary.EnabledProcesses++
		}
	}

	summary.TotalProcesses = len(summary.Processes)
	return summary
}
