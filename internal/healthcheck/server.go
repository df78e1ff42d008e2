package healthcheck

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/pull"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

const readyTimeout = 3 * time.Second

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Server represents a health check HTTP server
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *zap.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ErrorResponse is returned by the job endpoints on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JobsResponse lists pull jobs and which are running.
type JobsResponse struct {
	Jobs    []string `json:"jobs"`
	Running []string `json:"running"`
}

// NewServer creates a new health check server
func NewServer(port string, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: router,
		logger: logger,
		checks: map[string]CheckFunc{},
	}

	router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", server.handleReady).Methods(http.MethodGet)

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddReadinessCheck registers a dependency checked by /ready.
func (s *Server) AddReadinessCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Handle("/metrics", handler).Methods(http.MethodGet)
}

// RegisterJobRoutes adds manual pull triggers. running may be nil.
func (s *Server) RegisterJobRoutes(runner pull.Runner, running func() []string) {
	s.logger.Info("Registering /jobs endpoints")
	s.router.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		resp := JobsResponse{Jobs: []string{}, Running: []string{}}
		for _, kind := range pull.Kinds() {
			resp.Jobs = append(resp.Jobs, kind.String())
		}
		if running != nil {
			resp.Running = append(resp.Running, running()...)
		}
		utils.WriteJSONResponse(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/{job}", func(w http.ResponseWriter, r *http.Request) {
		s.handleRunJob(w, r, runner)
	}).Methods(http.MethodPost)
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady checks every registered dependency.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}
	status := http.StatusOK
	for _, name := range names {
		s.mu.RLock()
		check := s.checks[name]
		s.mu.RUnlock()
		if err := check(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Status = "NOT_READY"
			resp.Details[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Details[name] = "ok"
	}

	utils.WriteJSONResponse(w, status, resp)
}

// handleRunJob runs one pull synchronously: POST /jobs/{job}?force=true.
// The sync id comes from the X-Sync-Id header or is generated.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request, runner pull.Runner) {
	kind, err := pull.ParseJob(mux.Vars(r)["job"])
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			utils.WriteJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: "force must be a boolean"})
			return
		}
	}

	syncID := r.Header.Get("X-Sync-Id")
	if syncID == "" {
		syncID = uuid.NewString()
	}

	ctx := logger.WithLogger(r.Context(), s.logger.With(zap.String("source", "http")))
	result, err := runner.Run(ctx, syncID, kind, force)
	if err != nil {
		observer.IncJob("pull", "http", "failed")
		status := http.StatusInternalServerError
		if apperrors.IsBadRequestError(err) {
			status = http.StatusBadRequest
		}
		utils.WriteJSONResponse(w, status, ErrorResponse{Error: err.Error()})
		return
	}

	observer.IncJob("pull", "http", "success")
	w.Header().Set("X-Sync-Id", syncID)
	utils.WriteJSONResponse(w, http.StatusOK, result.Reply())
}
