package readiness

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

// Prober performs a single readiness attempt
type Prober interface {
	// Probe returns nil when the target is ready
	Probe(ctx context.Context) error
}

// NewProber creates the prober matching the configured check type
func NewProber(config Config) (Prober, error) {
	switch config.Type {
	case CheckTypeTCP:
		return &tcpProber{address: config.Address}, nil
	case CheckTypeHTTP:
		return &httpProber{url: config.URL, expectStatus: config.ExpectStatus}, nil
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unsupported readiness check type: %s", config.Type),
			nil,
		)
	}
}

type tcpProber struct {
	address string
}

func (p *tcpProber) Probe(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return errors.NewProcessError("tcp connect failed", err).WithContext("address", p.address)
	}
	conn.Close()
	return nil
}

type httpProber struct {
	url          string
	expectStatus int
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return errors.NewValidationError("failed to build readiness request", err).WithContext("url", p.url)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.NewProcessError("http probe failed", err).WithContext("url", p.url)
	}
	defer resp.Body.Close()

	if p.expectStatus != 0 {
		if resp.StatusCode != p.expectStatus {
			return errors.NewProcessError("unexpected readiness status", nil).
				WithContext("url", p.url).
				WithContext("status", resp.StatusCode).
				WithContext("expected", p.expectStatus)
		}
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewProcessError("unexpected readiness status", nil).
			WithContext("url", p.url).
			WithContext("status", resp.StatusCode)
	}

	return nil
}
