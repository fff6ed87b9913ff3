package controlserver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
)

// TransportType defines the type of transport for the control endpoint
type TransportType string

const (
	TransportAuto TransportType = "auto"
	TransportUDS  TransportType = "uds"
	TransportTCP  TransportType = "tcp"
)

// TransportConfig configures the control endpoint transport
type TransportConfig struct {
	// Transport type (auto, uds, tcp)
	TransportType TransportType

	// Unix domain socket path
	SocketPath string

	// TCP address (host:port)
	TCPAddress string

	// Unix socket file permissions
	FileMode os.FileMode
}

const (
	defaultTCPAddress = "127.0.0.1:6724" // ORCH on a phone keypad
	defaultSocketPath = "/tmp/orchestrator-control.sock"
)

// DefaultTransportConfig returns the default transport configuration for the platform
func DefaultTransportConfig() TransportConfig {
	if runtime.GOOS == "windows" {
		// No Unix sockets on Windows, loopback TCP is the development default
		return TransportConfig{
			TransportType: TransportTCP,
			TCPAddress:    defaultTCPAddress,
		}
	}
	return TransportConfig{
		TransportType: TransportUDS,
		SocketPath:    defaultSocketPath,
		FileMode:      0600, // Owner only
	}
}

// CreateListener creates a network listener based on the transport configuration
func CreateListener(config TransportConfig) (net.Listener, error) {
	// Resolve "auto" to platform-specific default
	if config.TransportType == TransportAuto || config.TransportType == "" {
		config = DefaultTransportConfig()
	}

	switch config.TransportType {
	case TransportUDS:
		return createUDSListener(config)
	case TransportTCP:
		return createTCPListener(config)
	default:
		return nil, errors.NewValidationError("invalid transport type", nil).
			WithContext("transport_type", string(config.TransportType))
	}
}

func createUDSListener(config TransportConfig) (net.Listener, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.NewValidationError("Unix domain sockets are not supported on Windows, use TCP instead", nil)
	}

	socketPath := config.SocketPath
	if socketPath == "" {
		socketPath = defaultSocketPath
	}

	// Remove stale socket file from a previous run
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	dir := filepath.Dir(socketPath)
	if dir != "" && dir != "/tmp" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix domain socket listener: %w", err)
	}

	fileMode := config.FileMode
	if fileMode == 0 {
		fileMode = 0600
	}

	if err := os.Chmod(socketPath, fileMode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket file permissions: %w", err)
	}

	return listener, nil
}

func createTCPListener(config TransportConfig) (net.Listener, error) {
	address := config.TCPAddress
	if address == "" {
		address = defaultTCPAddress
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener: %w", err)
	}

	return listener, nil
}

// GetListenerAddress returns a string representation of the listener address
func GetListenerAddress(listener net.Listener) string {
	addr := listener.Addr()

	switch addr.Network() {
	case "tcp":
		return fmt.Sprintf("tcp://%s", addr.String())
	case "unix":
		return fmt.Sprintf("unix://%s", addr.String())
	default:
		return addr.String()
	}
}

// ParseControlURL parses a control endpoint URL and returns transport configuration.
// Accepted formats: unix:///path, tcp://host:port, http://host:port
func ParseControlURL(url string) (TransportConfig, error) {
	switch {
	case strings.HasPrefix(url, "unix://"):
		return TransportConfig{
			TransportType: TransportUDS,
			SocketPath:    url[len("unix://"):],
		}, nil
	case strings.HasPrefix(url, "tcp://"):
		return TransportConfig{
			TransportType: TransportTCP,
			TCPAddress:    url[len("tcp://"):],
		}, nil
	case strings.HasPrefix(url, "http://"):
		// Accept http:// for TCP
		return TransportConfig{
			TransportType: TransportTCP,
			TCPAddress:    url[len("http://"):],
		}, nil
	default:
		return TransportConfig{}, errors.NewValidationError(
			fmt.Sprintf("unsupported control URL: %s", url),
			nil,
		).WithContext("supported_schemes", "unix://, tcp://, http://")
	}
}
