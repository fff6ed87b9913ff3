package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

func TestMergedEnvironment(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/dev", "LANG=C"}

	t.Run("no_overrides_returns_base", func(t *testing.T) {
		merged := mergedEnvironment(base, nil)
		assert.Equal(t, base, merged)
	})

	t.Run("override_replaces_inherited_entry", func(t *testing.T) {
		merged := mergedEnvironment(base, map[string]string{"LANG": "en_US.UTF-8"})
		assert.Contains(t, merged, "LANG=en_US.UTF-8")
		assert.NotContains(t, merged, "LANG=C")
		assert.Contains(t, merged, "PATH=/usr/bin")
		assert.Contains(t, merged, "HOME=/home/dev")
	})

	t.Run("new_variable_is_appended", func(t *testing.T) {
		merged := mergedEnvironment(base, map[string]string{"API_PORT": "8000"})
		assert.Contains(t, merged, "API_PORT=8000")
		assert.Len(t, merged, len(base)+1)
	})

	t.Run("entry_without_separator_passes_through", func(t *testing.T) {
		// Entries lacking '=' can appear when a parent set them via raw setenv;
		// they must survive the merge rather than crash it
		malformed := append([]string{"BARE_ENTRY"}, base...)
		merged := mergedEnvironment(malformed, map[string]string{"LANG": "en_US.UTF-8"})
		assert.Contains(t, merged, "BARE_ENTRY")
		assert.Contains(t, merged, "LANG=en_US.UTF-8")
		assert.NotContains(t, merged, "LANG=C")
	})
}

func TestResolveExecution(t *testing.T) {
	t.Run("empty_command_is_rejected", func(t *testing.T) {
		err := ResolveExecution(ExecutionConfig{})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("missing_working_directory_is_rejected", func(t *testing.T) {
		err := ResolveExecution(ExecutionConfig{
			Command:          []string{"true"},
			WorkingDirectory: "/nonexistent/orchestrator-test-dir",
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unresolvable_executable_is_rejected", func(t *testing.T) {
		err := ResolveExecution(ExecutionConfig{
			Command: []string{"orchestrator-test-no-such-binary"},
		})
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
	})
}
