package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory classifies domain errors for reporting and exit-code mapping
type ErrorCategory string

const (
	ErrorCategoryValidation       ErrorCategory = "validation"
	ErrorCategoryCyclicDependency ErrorCategory = "cyclic_dependency"
	ErrorCategoryReadinessTimeout ErrorCategory = "readiness_timeout"
	ErrorCategoryNotFound         ErrorCategory = "not_found"
	ErrorCategoryConflict         ErrorCategory = "conflict"
	ErrorCategoryProcess          ErrorCategory = "process"
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCancelled        ErrorCategory = "cancelled"
	ErrorCategoryIO               ErrorCategory = "io"
	ErrorCategoryInternal         ErrorCategory = "internal"
)

// DomainError is the common error type carrying a category, an optional cause
// and free-form key/value context for diagnostics
type DomainError struct {
	Category ErrorCategory
	Message  string
	Cause    error
	Context  map[string]interface{}
}

func newDomainError(category ErrorCategory, message string, cause error) *DomainError {
	return &DomainError{
		Category: category,
		Message:  message,
		Cause:    cause,
		Context:  make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryValidation, message, cause)
}

func NewCyclicDependencyError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryCyclicDependency, message, cause)
}

func NewReadinessTimeoutError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryReadinessTimeout, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryTimeout, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryCancelled, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newDomainError(ErrorCategoryInternal, message, cause)
}

// WithContext attaches a key/value pair to the error and returns the same error
// so calls can be chained
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Category))
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(pairs, ", "))
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// CategoryOf returns the category of the outermost DomainError in err's chain,
// or ErrorCategoryInternal if err is not a domain error
func CategoryOf(err error) ErrorCategory {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Category
	}
	return ErrorCategoryInternal
}

func isCategory(err error, category ErrorCategory) bool {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Category == category
	}
	return false
}

func IsValidationError(err error) bool {
	return isCategory(err, ErrorCategoryValidation)
}

func IsCyclicDependencyError(err error) bool {
	return isCategory(err, ErrorCategoryCyclicDependency)
}

func IsReadinessTimeoutError(err error) bool {
	return isCategory(err, ErrorCategoryReadinessTimeout)
}

func IsNotFoundError(err error) bool {
	return isCategory(err, ErrorCategoryNotFound)
}

func IsConflictError(err error) bool {
	return isCategory(err, ErrorCategoryConflict)
}

func IsProcessError(err error) bool {
	return isCategory(err, ErrorCategoryProcess)
}

func IsTimeoutError(err error) bool {
	return isCategory(err, ErrorCategoryTimeout)
}

func IsCancelledError(err error) bool {
	return isCategory(err, ErrorCategoryCancelled)
}

func IsIOError(err error) bool {
	return isCategory(err, ErrorCategoryIO)
}

func IsInternalError(err error) bool {
	return isCategory(err, ErrorCategoryInternal)
}

// ErrorCollection aggregates errors from multi-step operations such as teardown,
// where a single failure must not hide the remaining outcomes
type ErrorCollection struct {
	errors []error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (c *ErrorCollection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

func (c *ErrorCollection) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *ErrorCollection) Errors() []error {
	return c.errors
}

func (c *ErrorCollection) Error() string {
	if len(c.errors) == 0 {
		return ""
	}
	messages := make([]string, 0, len(c.errors))
	for _, err := range c.errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("%d error(s) occurred: %s", len(c.errors), strings.Join(messages, "; "))
}

// ToError returns nil when the collection is empty, the single error when there
// is exactly one, and the collection itself otherwise
func (c *ErrorCollection) ToError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return c
	}
}
