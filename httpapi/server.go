// Package httpapi exposes the analytics workflow over HTTP: a synchronous
// query endpoint, a server-sent-events stream, health probes, and metrics.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightflow/insightflow/workflow"
)

// Server serves the query API on top of an orchestrator.
type Server struct {
	orch   *workflow.Orchestrator
	logger *slog.Logger

	// ready reports backend readiness; nil means always ready.
	ready func() error
}

// Config carries the router's tunables.
type Config struct {
	// CORSOrigins lists allowed origins; empty allows all.
	CORSOrigins []string

	Logger *slog.Logger

	// Ready is consulted by the readiness probe.
	Ready func() error
}

// NewServer builds the server around an orchestrator.
func NewServer(orch *workflow.Orchestrator, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, logger: logger, ready: cfg.Ready}
}

// Router assembles the chi router with middleware and all routes.
func (s *Server) Router(cfg Config) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/query/stream", s.handleQueryStream)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleQuery runs the workflow to completion and returns the final result.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.orch.Execute(r.Context(), req)
	status := http.StatusOK
	if !result.Success && result.SQLQuery == "" && len(result.QueryResult) == 0 {
		// Pure failures with nothing recoverable still return the result
		// body; only input-shaped problems get a non-200 status.
		if strings.Contains(result.Error, "query must not be empty") ||
			strings.Contains(result.Error, "user_id is required") ||
			strings.Contains(result.Error, "looks like raw SQL") ||
			strings.Contains(result.Error, "conversation_id") {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, result)
}

// handleQueryStream runs the workflow and streams progress deltas as
// server-sent events. Exactly one terminal event, complete or error, closes
// the stream.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for delta := range s.orch.Stream(r.Context(), req) {
		payload, err := json.Marshal(delta)
		if err != nil {
			s.logger.Error("encode stream delta", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", delta.Type, payload)
		flusher.Flush()
	}
}

func decodeRequest(r *http.Request) (workflow.Request, error) {
	var req workflow.Request
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return workflow.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
