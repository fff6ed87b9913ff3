package controlserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devstack-tools/orchestrator-go/pkg/errors"
	"github.com/devstack-tools/orchestrator-go/pkg/logging"
	"github.com/devstack-tools/orchestrator-go/pkg/orchestrator"
)

// StatusSource is the view of the orchestrator the control API serves
type StatusSource interface {
	Status(name string) (orchestrator.ProcessStatus, error)
	StatusAll() map[string]orchestrator.ProcessStatus
	GetOrchestratorState() orchestrator.OrchestratorState
}

// ShutdownFunc is invoked when a shutdown is requested over the control API
type ShutdownFunc func()

// StatusResponse is the payload of GET /api/v1/status
type StatusResponse struct {
	SessionID         string                                `json:"session_id"`
	OrchestratorState orchestrator.OrchestratorState        `json:"orchestrator_state"`
	Processes         map[string]orchestrator.ProcessStatus `json:"processes"`
	Timestamp         time.Time                             `json:"timestamp"`
}

// HealthResponse is the payload of GET /api/v1/health
type HealthResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Uptime    string `json:"uptime"`
}

// ErrorResponse carries the error category so clients can map it back to
// a domain error
type ErrorResponse struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error"`
	Category string            `json:"category,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// Server is the HTTP control endpoint of a running orchestrator
type Server struct {
	source    StatusSource
	shutdown  ShutdownFunc
	listener  net.Listener
	server    *http.Server
	transport TransportConfig
	metrics   *Metrics
	sessionID string
	startedAt time.Time
	logger    logging.Logger
}

// NewServer creates a control server bound per the transport configuration
func NewServer(source StatusSource, shutdown ShutdownFunc, transport TransportConfig, logger logging.Logger) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	listener, err := CreateListener(transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	s := &Server{
		source:    source,
		shutdown:  shutdown,
		listener:  listener,
		transport: transport,
		metrics:   NewMetrics(),
		sessionID: uuid.NewString(),
		startedAt: time.Now(),
		logger:    logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/status", s.handleStatusAll).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/status/{name}", s.handleStatusOne).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/shutdown", s.handleShutdown).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	s.server = &http.Server{
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins serving, non-blocking
func (s *Server) Start(ctx context.Context) error {
	address := GetListenerAddress(s.listener)
	s.logger.Infof("Starting control server on %s, session: %s", address, s.sessionID)

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Control server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infof("Stopping control server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown failed: %w", err)
	}

	return nil
}

// GetAddress returns the server's listen address
func (s *Server) GetAddress() string {
	return GetListenerAddress(s.listener)
}

// HTTP Handlers

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	s.metrics.countRequest("status")

	state := s.source.GetOrchestratorState()
	statuses := s.source.StatusAll()

	s.sendSuccess(w, StatusResponse{
		SessionID:         s.sessionID,
		OrchestratorState: state,
		Processes:         statuses,
		Timestamp:         time.Now(),
	})
}

func (s *Server) handleStatusOne(w http.ResponseWriter, r *http.Request) {
	s.metrics.countRequest("status_one")

	name := mux.Vars(r)["name"]
	status, err := s.source.Status(name)
	if err != nil {
		s.sendErrorFromDomainError(w, err)
		return
	}

	s.sendSuccess(w, status)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.metrics.countRequest("shutdown")

	if s.shutdown == nil {
		s.sendError(w, http.StatusNotImplemented, "shutdown is not supported by this endpoint", "", nil)
		return
	}

	s.logger.Infof("Shutdown requested over control API")

	// Acknowledge before tearing down, the caller's connection dies with us
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]bool{"accepted": true}); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}

	go s.shutdown()
}

// handleMetrics resamples the state gauges from the source on every scrape,
// so the exposition is current without requiring a prior status request
func (s *Server) handleMetrics(exposition http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.observe(s.source.GetOrchestratorState(), s.source.StatusAll())
		exposition.ServeHTTP(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.countRequest("health")

	s.sendSuccess(w, HealthResponse{
		Status:    "healthy",
		SessionID: s.sessionID,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// Helper methods

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string, category string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success:  false,
		Error:    message,
		Category: category,
	}

	if err != nil {
		response.Context = map[string]string{"details": err.Error()}
	}

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		s.logger.Errorf("Failed to encode error response: %v", encErr)
	}

	s.logger.Warnf("Control request error: %s (status: %d)", message, statusCode)
}

func (s *Server) sendErrorFromDomainError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	if errors.IsNotFoundError(err) {
		statusCode = http.StatusNotFound
		message = "unknown process"
	} else if errors.IsValidationError(err) {
		statusCode = http.StatusBadRequest
		message = "validation error"
	}

	s.sendError(w, statusCode, message, string(errors.CategoryOf(err)), err)
}
