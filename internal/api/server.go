// Package api exposes the conversion pipeline over HTTP. Conversions
// are started asynchronously; clients poll the job endpoints or follow
// live progress over a WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/planforge/planforge/core/pipeline"
	"github.com/planforge/planforge/core/task"
	"github.com/planforge/planforge/internal/history"
	"github.com/planforge/planforge/internal/logging"
	"github.com/planforge/planforge/internal/validation"
)

// Server handles HTTP API requests for conversion jobs.
type Server struct {
	runner  *task.Runner
	history *history.Store
	jobs    *JobStore
	hub     *Hub
}

// NewServer creates an API server around a task runner. The history
// store is optional; when nil, completed runs are not persisted.
func NewServer(runner *task.Runner, hist *history.Store) *Server {
	return &Server{
		runner:  runner,
		history: hist,
		jobs:    NewJobStore(),
		hub:     NewHub(),
	}
}

// Routes returns the HTTP handler for all API endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/convert", s.handleConvert)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/v1/ws", s.hub.ServeWS)
	return s.logRequests(mux)
}

// ListenAndServe starts the hub and serves the API on addr. It blocks
// until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	go s.hub.Run()
	logging.Info("api server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Routes())
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the WebSocket upgrade keeps working behind
// the logging middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.HTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, rec.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ConvertRequest is the payload for starting a conversion job.
type ConvertRequest struct {
	SourcePath string `json:"source_path"`
	ToolPath   string `json:"tool_path,omitempty"`
	ConfigPath string `json:"config_path,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := validation.ValidateSourceImage(req.SourcePath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.runner.Start(context.Background(), pipeline.Request{
		SourceImagePath:  req.SourcePath,
		ToolPathOverride: req.ToolPath,
		ConfigPath:       req.ConfigPath,
	})
	if err != nil {
		if errors.Is(err, task.ErrBusy) {
			writeError(w, http.StatusConflict, "a conversion is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := s.jobs.Create(t.ID, req.SourcePath)
	go s.watch(t, req)

	writeJSON(w, http.StatusAccepted, job)
}

// watch consumes a task's event stream, keeping the job store and the
// WebSocket hub in sync until the terminal event arrives.
func (s *Server) watch(t *task.Task, req ConvertRequest) {
	id := t.ID

	for ev := range t.Events() {
		switch ev.Type {
		case task.EventProgress:
			s.jobs.SetStage(id, ev.Stage)
			s.hub.Broadcast(ProgressMessage{
				Type:    "progress",
				RunID:   id,
				Stage:   string(ev.Stage),
				Message: ev.Message,
			})
		case task.EventSuccess:
			s.hub.Broadcast(ProgressMessage{
				Type:       "complete",
				RunID:      id,
				Stage:      string(pipeline.StageDone),
				Message:    ev.Message,
				OutputPath: ev.OutputPath,
			})
		case task.EventFailure:
			stage := ""
			if ev.Result != nil && ev.Result.Failure != nil {
				stage = string(ev.Result.Failure.Stage)
			}
			s.hub.Broadcast(ProgressMessage{
				Type:    "error",
				RunID:   id,
				Stage:   stage,
				Message: ev.Message,
			})
		}
	}

	<-t.Done()
	result := t.Result()
	if result == nil {
		return
	}
	s.jobs.Complete(id, result)

	if s.history != nil {
		preq := pipeline.Request{
			SourceImagePath:  req.SourcePath,
			ToolPathOverride: req.ToolPath,
			ConfigPath:       req.ConfigPath,
		}
		if _, err := s.history.RecordRun(id, preq, result); err != nil {
			logging.Error("failed to record run", "run_id", id, "error", err)
		}
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt > jobs[j].CreatedAt })
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
