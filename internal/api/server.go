// Package api exposes the answer pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/pipeline"
	"github.com/sorakabot/soraka/internal/retrieval"
	"github.com/sorakabot/soraka/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer runs one question through the answer pipeline.
type Answerer interface {
	Handle(ctx context.Context, req pipeline.Request) pipeline.Response
}

// KnowledgeBase is the read side of the medical Q&A store.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
	Count(ctx context.Context) (int, error)
}

// Deps holds everything the HTTP handler needs.
type Deps struct {
	Pipeline Answerer
	KB       KnowledgeBase
	Sessions conversation.Store
	Store    *storage.Store
	// MCP, when set, is served at /mcp over streamable HTTP.
	MCP         http.Handler
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewHandler returns the soraka REST API.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	r.Post("/answer", handleAnswer(d.Pipeline, d.Logger))
	r.Get("/search", handleSearch(d.KB))
	r.Get("/sessions/{id}", handleGetSession(d.Sessions))

	if d.Store != nil {
		r.Get("/interactions", handleListInteractions(d.Store))
		r.Get("/interactions/{id}", handleGetInteraction(d.Store))
		r.Post("/knowledge-base/documents", handleEnqueueDocuments(d.Store))
		r.Get("/knowledge-base/jobs/{id}", handleGetJob(d.Store))
	}
	r.Get("/knowledge-base/stats", handleKBStats(d.KB))

	if d.MCP != nil {
		r.Handle("/mcp", d.MCP)
	}
	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "SorakaBot API is running"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// parseIntParam reads a positive integer query parameter, capped at max.
func parseIntParam(r *http.Request, name string, defaultVal, max int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if v > max {
		v = max
	}
	return v, nil
}
