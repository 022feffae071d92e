package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/autoops/autoops/pkg/config"
	"github.com/autoops/autoops/pkg/engine"
	"github.com/autoops/autoops/pkg/telemetry"
)

// Server exposes the task manager over HTTP.
type Server struct {
	manager *engine.Manager
	metrics *telemetry.Metrics
	logger  *telemetry.Logger
	cfg     config.ServerConfig
	version string
	httpSrv *http.Server
}

// NewServer builds the HTTP server around a started task manager.
func NewServer(manager *engine.Manager, metrics *telemetry.Metrics, logger *telemetry.Logger, cfg config.ServerConfig, version string) *Server {
	s := &Server{
		manager: manager,
		metrics: metrics,
		logger:  logger.NewComponentLogger("api"),
		cfg:     cfg,
		version: version,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", s.handleSubmit)
		r.Get("/tasks", s.handleList)
		r.Get("/tasks/{id}", s.handleGet)
		r.Delete("/tasks/{id}", s.handleCancel)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/health", s.handleHealth)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.cfg.Addr).Info("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type submitRequest struct {
	Request        string `json:"request"`
	Priority       string `json:"priority"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Request == "" {
		s.writeError(w, http.StatusBadRequest, "request text is required")
		return
	}

	priority := engine.TaskPriority(req.Priority)
	if req.Priority == "" {
		priority = engine.PriorityNormal
	}
	if err := priority.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.manager.Submit(r.Context(), req.Request, priority,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{
		TaskID: id,
		Status: string(engine.TaskStatusPending),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var status engine.TaskStatus
	if q := r.URL.Query().Get("status"); q != "" {
		status = engine.TaskStatus(q)
		if err := status.Validate(); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := parsePositiveInt(q)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	tasks := s.manager.List(status, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.manager.GetStatus(id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !s.manager.Cancel(id) {
		s.writeError(w, http.StatusConflict, "task already finished")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"task_id": id,
		"status":  string(engine.TaskStatusCancelled),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Metrics())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps classified engine errors onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch engine.ErrCode(err) {
	case engine.ErrCodeNotFound:
		status = http.StatusNotFound
	case engine.ErrCodeSubmission:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError && engine.IsPermanent(err) {
		status = http.StatusBadRequest
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("duration", time.Since(start).String()).
			Debug("request handled")
	})
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if err := json.Unmarshal([]byte(s), &n); err != nil || n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
