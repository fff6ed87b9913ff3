package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
)

// ExecutionConfig describes how to launch a child process
type ExecutionConfig struct {
	// Command is the executable followed by its arguments
	Command []string `yaml:"command"`

	// WorkingDirectory is the directory the process starts in, empty for inherit
	WorkingDirectory string `yaml:"working_directory,omitempty"`

	// Environment is merged over the parent environment
	Environment map[string]string `yaml:"environment,omitempty"`
}

// ExecuteCmd launches a process and returns it together with its combined
// stdout/stderr stream
type ExecuteCmd func(ctx context.Context) (*os.Process, io.ReadCloser, error)

// ResolveExecution verifies that the working directory exists and the command
// resolves to an executable, without launching anything
func ResolveExecution(config ExecutionConfig) error {
	if len(config.Command) == 0 {
		return errors.NewValidationError("command cannot be empty", nil)
	}

	if config.WorkingDirectory != "" {
		info, err := os.Stat(config.WorkingDirectory)
		if err != nil {
			return errors.NewValidationError("working directory does not resolve", err).
				WithContext("working_directory", config.WorkingDirectory)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory", nil).
				WithContext("working_directory", config.WorkingDirectory)
		}
	}

	if _, err := resolveExecutable(config); err != nil {
		return err
	}

	return nil
}

// resolveExecutable locates the command's executable, honoring the working
// directory for relative paths that contain a separator
func resolveExecutable(config ExecutionConfig) (string, error) {
	name := config.Command[0]

	if strings.ContainsRune(name, os.PathSeparator) && !filepath.IsAbs(name) && config.WorkingDirectory != "" {
		name = filepath.Join(config.WorkingDirectory, name)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.NewValidationError(
			fmt.Sprintf("command does not resolve to an executable: %s", config.Command[0]),
			err,
		).WithContext("command", config.Command[0])
	}

	return path, nil
}

// NewStdExecuteCmd creates the standard execute command for a process spec
func NewStdExecuteCmd(config ExecutionConfig, id string, logger logging.Logger) ExecuteCmd {
	return func(ctx context.Context) (*os.Process, io.ReadCloser, error) {
		if err := ResolveExecution(config); err != nil {
			return nil, nil, err
		}

		executable, err := resolveExecutable(config)
		if err != nil {
			return nil, nil, err
		}

		if ctx.Err() != nil {
			return nil, nil, errors.NewCancelledError("launch cancelled", ctx.Err()).WithContext("id", id)
		}

		logger.Debugf("Launching process, id: %s, executable: %s, args: %v, dir: %s",
			id, executable, config.Command[1:], config.WorkingDirectory)

		// Plain exec.Command: termination is driven by the process control
		// layer, not by context cancellation of the launch call
		cmd := exec.Command(executable, config.Command[1:]...)
		cmd.Dir = config.WorkingDirectory
		cmd.Env = mergedEnvironment(os.Environ(), config.Environment)
		cmd.SysProcAttr = sysProcAttr()

		// One pipe carries both stdout and stderr so the caller sees the
		// child's output in arrival order
		outputReader, outputWriter, err := os.Pipe()
		if err != nil {
			return nil, nil, errors.NewIOError("failed to create output pipe", err).WithContext("id", id)
		}
		cmd.Stdout = outputWriter
		cmd.Stderr = outputWriter

		if err := cmd.Start(); err != nil {
			outputReader.Close()
			outputWriter.Close()
			return nil, nil, errors.NewProcessError("failed to start process", err).
				WithContext("id", id).
				WithContext("executable", executable)
		}

		// The child holds its own copy of the write end
		outputWriter.Close()

		logger.Infof("Process launched, id: %s, PID: %d", id, cmd.Process.Pid)

		return cmd.Process, outputReader, nil
	}
}

// mergedEnvironment overlays the configured variables on the base environment
func mergedEnvironment(base []string, environment map[string]string) []string {
	if len(environment) == 0 {
		return base
	}

	merged := make([]string, 0, len(base)+len(environment))
	for _, entry := range base {
		// Entries without '=' can leak in via setenv from non-Go code
		separator := strings.IndexByte(entry, '=')
		if separator < 0 {
			merged = append(merged, entry)
			continue
		}
		if _, overridden := environment[entry[:separator]]; !overridden {
			merged = append(merged, entry)
		}
	}
	for key, value := range environment {
		merged = append(merged, key+"="+value)
	}
	return merged
}
