package orchestratorwiring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateConfigFile(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfigFile(t, `
processes:
  - id: api
    command: ["sleep", "1"]
  - id: dashboard
    command: ["sleep", "1"]
    depends_on: [api]
`)
		assert.NoError(t, ValidateConfigFile(path))
	})

	t.Run("missing_file", func(t *testing.T) {
		err := ValidateConfigFile(filepath.Join(t.TempDir(), "no-such.yaml"))
		assert.Error(t, err)
		assert.True(t, errors.IsIOError(err))
	})

	t.Run("undeclared_dependency", func(t *testing.T) {
		path := writeConfigFile(t, `
processes:
  - id: dashboard
    command: ["sleep", "1"]
    depends_on: [api]
`)
		err := ValidateConfigFile(path)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("cycle_detected_without_launching", func(t *testing.T) {
		path := writeConfigFile(t, `
processes:
  - id: a
    command: ["sleep", "1"]
    depends_on: [b]
  - id: b
    command: ["sleep", "1"]
    depends_on: [a]
`)
		err := ValidateConfigFile(path)
		assert.Error(t, err)
		assert.True(t, errors.IsCyclicDependencyError(err))
	})
}
