package readiness

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
)

// Poller drives a readiness check with exponential backoff until it passes,
// the overall timeout expires, or the context is cancelled
type Poller struct {
	config    Config
	prober    Prober
	processID string
	clock     clockwork.Clock
	logger    logging.Logger
}

// NewPoller creates a poller for the given readiness configuration.
// The configuration must already have defaults applied.
func NewPoller(config Config, processID string, clock clockwork.Clock, logger logging.Logger) (*Poller, error) {
	prober, err := NewProber(config)
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Poller{
		config:    config,
		prober:    prober,
		processID: processID,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Poll blocks until the check passes or fails permanently.
// Failure modes: ReadinessTimeout when the timeout budget is exhausted,
// Cancelled when ctx is done.
func (p *Poller) Poll(ctx context.Context) error {
	deadline := p.clock.Now().Add(p.config.Timeout)
	interval := p.config.InitialInterval
	attempts := 0

	var lastErr error
	for {
		if ctx.Err() != nil {
			return errors.NewCancelledError("readiness poll cancelled", ctx.Err()).
				WithContext("process_id", p.processID)
		}

		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
		lastErr = p.prober.Probe(attemptCtx)
		cancel()

		if lastErr == nil {
			p.logger.Infof("Readiness check passed, process: %s, attempts: %d", p.processID, attempts)
			return nil
		}

		p.logger.Debugf("Readiness check failed, process: %s, attempt: %d, retrying in %s, error: %v",
			p.processID, attempts, interval, lastErr)

		if p.clock.Now().Add(interval).After(deadline) {
			return errors.NewReadinessTimeoutError("readiness check timed out", lastErr).
				WithContext("process_id", p.processID).
				WithContext("attempts", attempts).
				WithContext("timeout", p.config.Timeout.String())
		}

		select {
		case <-ctx.Done():
			return errors.NewCancelledError("readiness poll cancelled", ctx.Err()).
				WithContext("process_id", p.processID)
		case <-p.clock.After(interval):
		}

		interval = time.Duration(float64(interval) * p.config.BackoffRate)
		if interval > p.config.MaxInterval {
			interval = p.config.MaxInterval
		}
	}
}
