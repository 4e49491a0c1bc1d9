// Package api exposes ingestion, single-step continuation and worker
// triggers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
	"github.com/sells-group/skiatlas/internal/pipeline"
	"github.com/sells-group/skiatlas/internal/worker"
)

// DefaultWorkerTimeout bounds a worker run started over HTTP.
const DefaultWorkerTimeout = 5 * time.Minute

// Ingester starts ingestion for a trigger.
type Ingester interface {
	Ingest(ctx context.Context, trigger model.TriggerPayload) (*pipeline.IngestResult, error)
}

// Stepper performs one continuation transition.
type Stepper interface {
	Step(ctx context.Context, state pipeline.ContinuationState) (pipeline.ContinuationState, error)
}

// WorkerRunner runs one queue worker invocation.
type WorkerRunner interface {
	Run(ctx context.Context, deadline time.Time) (worker.Report, error)
}

// Deps are the collaborators behind the routes. Nil entries make their
// routes answer 503.
type Deps struct {
	Ingester      Ingester
	Stepper       Stepper
	Worker        WorkerRunner
	Metrics       http.Handler
	CORSOrigins   []string
	WorkerTimeout time.Duration
	// BaseContext parents background worker runs; they stop when it ends.
	BaseContext context.Context
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	router chi.Router
	wg     sync.WaitGroup
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.WorkerTimeout <= 0 {
		deps.WorkerTimeout = DefaultWorkerTimeout
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}

	s := &Server{deps: deps}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/step", s.handleStep)
		r.Post("/worker", s.handleWorker)
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background worker runs return.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	var trigger model.TriggerPayload
	if err := decodeOptional(r, &trigger); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), trigger)
	switch {
	case errors.Is(err, model.ErrNoElements):
		writeError(w, http.StatusNotFound, "no elements")
		return
	case model.IsUpstream(err):
		zap.L().Warn("api: ingest upstream failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, "map-data service unavailable")
		return
	case err != nil:
		zap.L().Error("api: ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stepper == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	var state pipeline.ContinuationState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next, err := s.deps.Stepper.Step(r.Context(), state)
	switch {
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		zap.L().Warn("api: step interrupted", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "step interrupted, retry with the same state")
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	if s.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not configured")
		return
	}
	var req worker.SpawnRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	timeout := s.deps.WorkerTimeout
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.deps.BaseContext, timeout)
		defer cancel()
		deadline, _ := ctx.Deadline()

		rep, err := s.deps.Worker.Run(ctx, deadline)
		if err != nil {
			zap.L().Error("api: worker run failed", zap.Error(err))
			return
		}
		zap.L().Info("api: worker run complete",
			zap.Int("processed", rep.Processed),
			zap.Int("failed", rep.Failed),
			zap.Bool("spawned", rep.Spawned),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// decodeOptional decodes a JSON body, treating an empty body as zero value.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
