package simulator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskferry/taskferry/internal/batch"
	"github.com/taskferry/taskferry/internal/errors"
	"github.com/taskferry/taskferry/internal/logging"
	"github.com/taskferry/taskferry/internal/task"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAPIKey requires "Authorization: Bearer <key>" on every request.
// An empty key leaves the server open.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithServerLogger sets the request logger. Defaults to a no-op logger.
func WithServerLogger(log *logging.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithLatency delays every request by d, for exercising slow-service
// behavior locally. Zero disables the delay.
func WithLatency(d time.Duration) ServerOption {
	return func(s *Server) { s.latency = d }
}

// Server exposes a Service over the REST wire format.
type Server struct {
	svc     *Service
	apiKey  string
	latency time.Duration
	log     *logging.Logger
	router  chi.Router
}

// NewServer wraps the service in an HTTP API.
func NewServer(svc *Service, opts ...ServerOption) *Server {
	s := &Server{
		svc: svc,
		log: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.latency > 0 {
		r.Use(s.injectLatency)
	}

	r.Route("/api/jobs/{jobID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.apiKey != "" {
				r.Use(s.requireAPIKey)
			}
			r.Post("/taskcollection", s.handleAddTasks)
			r.Get("/taskcounts", s.handleTaskCounts)
			r.Get("/tasks", s.handleListTasks)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler tree.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wire shapes shared with the REST client.

type addRequest struct {
	Value []task.Descriptor `json:"value"`
}

type addResponse struct {
	Value []batch.AddResult `json:"value"`
}

type countsResponse struct {
	Active           int    `json:"active"`
	Running          int    `json:"running"`
	Completed        int    `json:"completed"`
	Failed           int    `json:"failed"`
	ValidationStatus string `json:"validationStatus"`
}

type listResponse struct {
	Value []batch.TaskState `json:"value"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleAddTasks(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "MalformedRequest", "request body is not valid JSON")
		return
	}

	results, err := s.svc.AddTaskCollection(r.Context(), req.Value)
	if err != nil {
		var rejected *batch.RequestRejectedError
		if errors.As(err, &rejected) {
			status := http.StatusBadRequest
			if rejected.Oversized() {
				status = http.StatusRequestEntityTooLarge
			}
			s.writeError(w, status, rejected.Code, rejected.Message)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, addResponse{Value: results})
}

func (s *Server) handleTaskCounts(w http.ResponseWriter, r *http.Request) {
	expected, _ := strconv.Atoi(r.URL.Query().Get("expected"))

	counts, err := s.svc.TaskCounts(r.Context(), expected)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	status := "unvalidated"
	if counts.Validated {
		status = "validated"
	}
	s.writeJSON(w, http.StatusOK, countsResponse{
		Active:           counts.Active,
		Running:          counts.Running,
		Completed:        counts.Completed,
		Failed:           counts.Failed,
		ValidationStatus: status,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	states, err := s.svc.ListTaskStates(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Value: states})
}

// injectLatency holds every request for the configured delay, or until
// the client gives up.
func (s *Server) injectLatency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(s.latency):
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests without the configured bearer key.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		key, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || key != s.apiKey {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger records one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String())
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message})
}
