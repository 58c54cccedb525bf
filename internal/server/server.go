package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/cwbudde/mayflydoe/internal/store"
	"github.com/cwbudde/mayflydoe/internal/strategy"
)

// Options configures the server. Store and TraceDir are optional.
type Options struct {
	Addr     string
	Store    store.Store
	TraceDir string
}

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	worker     *worker
	metrics    *Metrics
	store      store.Store
	validate   *validator.Validate
	addr       string
	server     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new HTTP server
func NewServer(opts Options) *Server {
	jm := NewJobManager()
	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: jm,
		worker:     &worker{jobs: jm, store: opts.Store, traceDir: opts.TraceDir, metrics: metrics},
		metrics:    metrics,
		store:      opts.Store,
		validate:   validator.New(),
		addr:       opts.Addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleCancelJob)
			r.Get("/design", s.handleGetDesign)
			r.Get("/design.csv", s.handleGetDesignCSV)
			r.Get("/stream", s.handleJobStream)
		})
		r.Get("/designs", s.handleListRecords)
		r.Get("/designs/{id}", s.handleGetRecord)
		r.Get("/designs/{id}/trace", s.handleGetTrace)
	})

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := JobRequest{Problem: strategy.DefaultConfig()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, requestError(err))
		return
	}

	// fail fast on problems the worker would reject
	strat, err := strategy.New(req.Problem)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if req.Experiments != nil {
		if _, err := strat.Encode(*req.Experiments); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	job := s.jobManager.CreateJob(req)
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.SetCancel(job.ID, cancel)

	go func() {
		defer s.jobManager.ClearCancel(job.ID)
		defer cancel()
		if err := s.worker.runJob(ctx, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()

	snapshot, _ := s.jobManager.GetJob(job.ID)
	writeJSON(w, http.StatusCreated, snapshot)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobManager.GetJob(chi.URLParam(r, "id"))
	if !exists {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob handles DELETE /api/v1/jobs/{id}
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.jobManager.Cancel(id) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, _ := s.jobManager.GetJob(id)
	writeJSON(w, http.StatusAccepted, job)
}

// design looks up the candidate table of a finished job, falling back to the
// stored record. It writes the error response itself.
func (s *Server) design(w http.ResponseWriter, id string) (strategy.Table, bool) {
	if job, exists := s.jobManager.GetJob(id); exists {
		if job.State == StateCompleted && job.Candidates != nil {
			return *job.Candidates, true
		}
		if !job.State.Terminal() {
			writeError(w, http.StatusConflict, "job is still "+string(job.State))
			return strategy.Table{}, false
		}
		if s.store == nil {
			writeError(w, http.StatusNotFound, "job has no design: "+string(job.State))
			return strategy.Table{}, false
		}
	}
	if s.store != nil {
		record, err := s.store.LoadRecord(id)
		if err == nil {
			return record.Candidates, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return strategy.Table{}, false
		}
	}
	writeError(w, http.StatusNotFound, "design not found")
	return strategy.Table{}, false
}

// handleGetDesign handles GET /api/v1/jobs/{id}/design
func (s *Server) handleGetDesign(w http.ResponseWriter, r *http.Request) {
	table, ok := s.design(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// handleGetDesignCSV handles GET /api/v1/jobs/{id}/design.csv
func (s *Server) handleGetDesignCSV(w http.ResponseWriter, r *http.Request) {
	table, ok := s.design(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	if err := table.WriteCSV(w); err != nil {
		slog.Error("Failed to write CSV", "error", err)
	}
}

// handleListRecords handles GET /api/v1/designs
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RecordInfo{})
		return
	}
	infos, err := s.store.ListRecords()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleGetRecord handles GET /api/v1/designs/{id}
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "design not found")
		return
	}
	record, err := s.store.LoadRecord(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "design not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetTrace handles GET /api/v1/designs/{id}/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if s.worker.traceDir == "" {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	entries, err := store.ReadTrace(s.worker.traceDir, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
