// Package chi exposes the search and task API over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain"
	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/task"
	healthuc "github.com/corpex-io/corpex/internal/usecase/health"
	searchuc "github.com/corpex-io/corpex/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the use cases to the HTTP surface.
type Server struct {
	search        *searchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search *searchuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		search: search,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrTaskNotFound, http.StatusNotFound, "task_not_found"),
		sentinelHandler(domain.ErrInvalidMatrix, http.StatusBadRequest, "invalid_matrix"),
		sentinelHandler(domain.ErrNoResults, http.StatusNotFound, "no_results"),
		sentinelHandler(domain.ErrResultsUnavailable, http.StatusConflict, "results_unavailable"),
		sentinelHandler(domain.ErrStoreExhausted, http.StatusServiceUnavailable, "store_exhausted"),
	}
	return s
}

// Router builds the route tree. Middleware is applied by the caller.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.StartSearch)
		r.Get("/tasks", s.ListTasks)
		r.Get("/tasks/{id}", s.GetTask)
		r.Delete("/tasks/{id}", s.CancelTask)
		r.Post("/tasks/{id}/release", s.ReleaseTask)
		r.Get("/tasks/{id}/results", s.GetTaskMatches)
		r.Get("/matches", s.GetMatches)
		r.Post("/results/upload", s.UploadResults)
	})
	return r
}

type taskResponse struct {
	ThreadID        int64   `json:"threadId"`
	ThreadName      string  `json:"threadName"`
	Who             string  `json:"who,omitempty"`
	Status          string  `json:"status"`
	Log             string  `json:"log,omitempty"`
	PercentComplete int     `json:"percentComplete"`
	Running         bool    `json:"running"`
	Duration        float64 `json:"duration"`
	ResultURL       string  `json:"resultUrl,omitempty"`
	ResultText      string  `json:"resultText,omitempty"`
}

func taskToResponse(j task.Job, includeLog bool) taskResponse {
	t := j.Base()
	resp := taskResponse{
		ThreadID:        t.ID(),
		ThreadName:      t.Name(),
		Who:             t.Who(),
		Status:          t.Status(),
		PercentComplete: t.Percent(),
		Running:         t.Running(),
		Duration:        t.Duration().Seconds(),
		ResultURL:       t.ResultURL(),
		ResultText:      t.ResultText(),
	}
	if includeLog {
		resp.Log = t.Log()
	}
	return resp
}

// StartSearch handles POST /api/search.
func (s *Server) StartSearch(w http.ResponseWriter, r *http.Request) {
	m, err := matrix.Read(r.Body)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	id := s.search.StartSearch(m, who(r))
	writeJSON(w, http.StatusCreated, map[string]any{"threadId": id})
}

// ListTasks handles GET /api/tasks.
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	jobs := s.search.Tasks()
	items := make([]taskResponse, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, taskToResponse(j, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetTask handles GET /api/tasks/{id}. Polling refreshes the task's
// keep-alive. ?log=true includes the status log.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	j, err := s.search.Task(id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(j, r.URL.Query().Get("log") == "true"))
}

// CancelTask handles DELETE /api/tasks/{id}.
func (s *Server) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.search.Cancel(id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseTask handles POST /api/tasks/{id}/release.
func (s *Server) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.search.Release(id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTaskMatches handles GET /api/tasks/{id}/results.
func (s *Server) GetTaskMatches(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	s.writeMatches(w, r, id)
}

// GetMatches handles GET /api/matches?threadId=N, the shape result links
// are published in.
func (s *Server) GetMatches(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("threadId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "threadId must be an integer")
		return
	}
	s.writeMatches(w, r, id)
}

func (s *Server) writeMatches(w http.ResponseWriter, r *http.Request, id int64) {
	q := r.URL.Query()
	pageNumber, _ := strconv.Atoi(q.Get("pageNumber"))
	pageLength, _ := strconv.Atoi(q.Get("pageLength"))

	matches, err := s.search.Matches(id, pageNumber, pageLength)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threadId":   id,
		"matches":    matches,
		"pageNumber": pageNumber,
		"pageLength": pageLength,
	})
}

// UploadResults handles POST /api/results/upload: the body is a CSV match
// list; ?targetColumn= overrides the configured target column name.
func (s *Server) UploadResults(w http.ResponseWriter, r *http.Request) {
	id, err := s.search.StartResultsFile(r.Body, r.URL.Query().Get("targetColumn"), who(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"threadId": id})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
		"tasks":  report.Tasks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func who(r *http.Request) string {
	if u := r.Header.Get("X-Forwarded-User"); u != "" {
		return u
	}
	return r.RemoteAddr
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "task id must be an integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrTaskNotFound,
		domain.ErrInvalidMatrix,
		domain.ErrNoResults,
		domain.ErrResultsUnavailable,
		domain.ErrStoreExhausted,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
