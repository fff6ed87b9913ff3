package controlserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator"
)

// Client talks to the control endpoint of a running orchestrator
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given transport configuration
func NewClient(transport TransportConfig) (*Client, error) {
	if transport.TransportType == TransportAuto || transport.TransportType == "" {
		transport = DefaultTransportConfig()
	}

	switch transport.TransportType {
	case TransportTCP:
		address := transport.TCPAddress
		if address == "" {
			address = defaultTCPAddress
		}
		return &Client{
			baseURL:    fmt.Sprintf("http://%s", address),
			httpClient: &http.Client{Timeout: 30 * time.Second},
		}, nil

	case TransportUDS:
		socketPath := transport.SocketPath
		if socketPath == "" {
			socketPath = defaultSocketPath
		}
		// The host part of the URL is ignored, the dialer pins the socket
		return &Client{
			baseURL: "http://orchestrator",
			httpClient: &http.Client{
				Timeout: 30 * time.Second,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", socketPath)
					},
				},
			},
		}, nil

	default:
		return nil, errors.NewValidationError("invalid transport type", nil).
			WithContext("transport_type", string(transport.TransportType))
	}
}

// Status fetches the status of all processes
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.get(ctx, "/api/v1/status", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// StatusOne fetches the status of a single process by name
func (c *Client) StatusOne(ctx context.Context, name string) (*orchestrator.ProcessStatus, error) {
	var status orchestrator.ProcessStatus
	if err := c.get(ctx, "/api/v1/status/"+name, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Shutdown asks the orchestrator to tear down and exit
func (c *Client) Shutdown(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/shutdown", nil)
	if err != nil {
		return errors.NewInternalError("failed to build shutdown request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewIOError("orchestrator control endpoint is not reachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	return nil
}

// Health checks whether the control endpoint answers
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	if err := c.get(ctx, "/api/v1/health", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.NewInternalError("failed to build request", err).WithContext("path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewIOError("orchestrator control endpoint is not reachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewInternalError("failed to decode response", err).WithContext("path", path)
	}
	return nil
}

// errorFromResponse rebuilds a domain error from the category the server sent
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errorResponse ErrorResponse
	if err := json.Unmarshal(body, &errorResponse); err != nil || errorResponse.Error == "" {
		return errors.NewInternalError(
			fmt.Sprintf("control endpoint returned status %d", resp.StatusCode),
			nil,
		)
	}

	message := errorResponse.Error
	if details, ok := errorResponse.Context["details"]; ok {
		message = fmt.Sprintf("%s: %s", message, details)
	}

	switch errors.ErrorCategory(errorResponse.Category) {
	case errors.ErrorCategoryNotFound:
		return errors.NewNotFoundError(message, nil)
	case errors.ErrorCategoryValidation:
		return errors.NewValidationError(message, nil)
	default:
		return errors.NewInternalError(message, nil)
	}
}
