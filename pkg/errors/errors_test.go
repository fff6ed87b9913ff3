package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	t.Run("message_only", func(t *testing.T) {
		err := NewValidationError("bad spec", nil)
		assert.Equal(t, "validation: bad spec", err.Error())
	})

	t.Run("with_cause", func(t *testing.T) {
		cause := fmt.Errorf("file missing")
		err := NewIOError("failed to read configuration file", cause)
		assert.Contains(t, err.Error(), "failed to read configuration file")
		assert.Contains(t, err.Error(), "file missing")
	})

	t.Run("with_context", func(t *testing.T) {
		err := NewNotFoundError("process not found", nil).WithContext("process_id", "api")
		assert.Contains(t, err.Error(), "process_id=api")
	})

	t.Run("context_keys_sorted", func(t *testing.T) {
		err := NewProcessError("boom", nil).
			WithContext("zeta", 1).
			WithContext("alpha", 2)
		assert.Contains(t, err.Error(), "alpha=2, zeta=1")
	})
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewInternalError("wrapped", cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestCategoryCheckers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
	}{
		{"validation", NewValidationError("x", nil), IsValidationError},
		{"cyclic_dependency", NewCyclicDependencyError("x", nil), IsCyclicDependencyError},
		{"readiness_timeout", NewReadinessTimeoutError("x", nil), IsReadinessTimeoutError},
		{"not_found", NewNotFoundError("x", nil), IsNotFoundError},
		{"conflict", NewConflictError("x", nil), IsConflictError},
		{"process", NewProcessError("x", nil), IsProcessError},
		{"timeout", NewTimeoutError("x", nil), IsTimeoutError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
		{"io", NewIOError("x", nil), IsIOError},
		{"internal", NewInternalError("x", nil), IsInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.checker(tt.err))
		})
	}
}

func TestCategoryCheckers_WrappedChain(t *testing.T) {
	inner := NewReadinessTimeoutError("readiness check timed out", nil)
	outer := fmt.Errorf("start failed: %w", inner)

	assert.True(t, IsReadinessTimeoutError(outer))
	assert.False(t, IsValidationError(outer))
	assert.Equal(t, ErrorCategoryReadinessTimeout, CategoryOf(outer))
}

func TestCategoryOf_NonDomainError(t *testing.T) {
	assert.Equal(t, ErrorCategoryInternal, CategoryOf(fmt.Errorf("plain")))
}

func TestErrorCollection(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		collection := NewErrorCollection()
		assert.False(t, collection.HasErrors())
		assert.NoError(t, collection.ToError())
	})

	t.Run("single_error_returned_directly", func(t *testing.T) {
		collection := NewErrorCollection()
		err := NewProcessError("failed to stop process", nil)
		collection.Add(err)
		assert.Equal(t, err, collection.ToError())
	})

	t.Run("multiple_errors_aggregated", func(t *testing.T) {
		collection := NewErrorCollection()
		collection.Add(NewProcessError("first", nil))
		collection.Add(nil) // ignored
		collection.Add(NewProcessError("second", nil))

		err := collection.ToError()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "2 error(s) occurred")
		assert.Contains(t, err.Error(), "first")
		assert.Contains(t, err.Error(), "second")
	})
}
