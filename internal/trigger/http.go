package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

const maxBodyBytes = 64 << 10

// Response is the JSON body of every /rotate response.
type Response struct {
	Status     string `json:"status"`
	SecretID   string `json:"secret_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// Server exposes the coordinator over HTTP:
//
//	POST /rotate   one Event per request
//	GET  /health   liveness
//	GET  /metrics  Prometheus metrics, when a gatherer is configured
type Server struct {
	stepper  Stepper
	logger   *logging.Logger
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics serves gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithStepTimeout bounds each step.
func WithStepTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// NewServer creates an HTTP trigger.
func NewServer(stepper Stepper, logger *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{stepper: stepper, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rotate", s.handleRotate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "error", Error: "method not allowed"})
		return
	}

	var event Event
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Error: "invalid event body: " + err.Error()})
		return
	}

	req, err := event.Request()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:     "error",
			SecretID:   event.SecretID,
			Step:       event.Step,
			Error:      err.Error(),
			Suggestion: dserrors.Suggestion(err),
		})
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err = s.stepper.HandleStep(ctx, req)
	if err == nil {
		writeJSON(w, http.StatusOK, Response{Status: "done", SecretID: req.SecretID, Step: req.Step.String()})
		return
	}

	s.logger.Warn("HTTP trigger: %s for %s failed: %v", req.Step, req.SecretID, err)
	writeJSON(w, StatusFor(err), Response{
		Status:     "error",
		SecretID:   req.SecretID,
		Step:       req.Step.String(),
		Error:      err.Error(),
		Suggestion: dserrors.Suggestion(err),
		Retryable:  dserrors.IsRetryable(err),
	})
}

// StatusFor maps a step error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, rotation.ErrInvalidStep):
		return http.StatusBadRequest
	case errors.Is(err, rotation.ErrCredentialVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rotation.ErrRotationDisabled),
		errors.Is(err, rotation.ErrUnknownVersion),
		errors.Is(err, rotation.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, rotation.ErrSecretNotFound):
		return http.StatusNotFound
	case dserrors.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
