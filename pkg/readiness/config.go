package readiness

import (
	"fmt"
	"net/url"
	"time"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

// CheckType selects the probe mechanism for a readiness check
type CheckType string

const (
	// CheckTypeTCP probes by establishing a TCP connection
	CheckTypeTCP CheckType = "tcp"

	// CheckTypeHTTP probes by issuing an HTTP GET and inspecting the status
	CheckTypeHTTP CheckType = "http"
)

// Config declares a readiness check for a process
type Config struct {
	Type CheckType `yaml:"type"`

	// Address is the host:port target for tcp checks
	Address string `yaml:"address,omitempty"`

	// URL is the target for http checks
	URL string `yaml:"url,omitempty"`

	// ExpectStatus is the HTTP status treated as ready, 0 means any 2xx
	ExpectStatus int `yaml:"expect_status,omitempty"`

	// Polling schedule: exponential backoff from InitialInterval by
	// BackoffRate, capped at MaxInterval, bounded overall by Timeout
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	BackoffRate     float64       `yaml:"backoff_rate,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`

	// AttemptTimeout bounds a single probe attempt
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`
}

// SetConfigDefaults applies default values to a readiness configuration
func SetConfigDefaults(config *Config) {
	if config.InitialInterval == 0 {
		config.InitialInterval = 250 * time.Millisecond
	}
	if config.BackoffRate == 0 {
		config.BackoffRate = 2.0
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 5 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.AttemptTimeout == 0 {
		config.AttemptTimeout = 2 * time.Second
	}
}

// ValidateConfig validates a readiness configuration
func ValidateConfig(config Config) error {
	switch config.Type {
	case CheckTypeTCP:
		if config.Address == "" {
			return errors.NewValidationError("tcp readiness check requires an address", nil)
		}
	case CheckTypeHTTP:
		if config.URL == "" {
			return errors.NewValidationError("http readiness check requires a url", nil)
		}
		parsed, err := url.Parse(config.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.NewValidationError("http readiness check url is invalid", err).
				WithContext("url", config.URL)
		}
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported readiness check type: %s", config.Type),
			nil,
		).WithContext("supported_types", "tcp, http")
	}

	if config.BackoffRate != 0 && config.BackoffRate < 1.0 {
		return errors.NewValidationError("backoff rate must be at least 1.0", nil).
			WithContext("backoff_rate", config.BackoffRate)
	}

	return nil
}
