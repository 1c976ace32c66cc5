package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/config"
	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/engine"
	"github.com/sorakabot/soraka/internal/logging"
	"github.com/sorakabot/soraka/internal/pipeline"
	"github.com/sorakabot/soraka/internal/retrieval"
	"github.com/sorakabot/soraka/internal/storage"
)

// app holds the components shared by start, ingest and eval.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	vectors  retrieval.VectorStore
	embedder *engine.OllamaEngine
	kb       *retrieval.KnowledgeBase
	closers  []func() error
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
}

// newApp opens local storage, the configured vector store and the embedder.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	vectors, err := openVectorStore(ctx, cfg, store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.vectors = vectors
	a.closers = append(a.closers, vectors.Close)

	a.embedder = engine.NewOllamaEngine(cfg.Embedding.BaseURL, "", cfg.Embedding.Model)
	a.kb = retrieval.NewKnowledgeBase(vectors, a.embedder)

	logger.Info("knowledge base ready",
		zap.String("backend", cfg.KnowledgeBase.Backend),
		zap.String("embed_model", cfg.Embedding.Model),
	)
	return a, nil
}

func openVectorStore(ctx context.Context, cfg config.Config, store *storage.Store) (retrieval.VectorStore, error) {
	kb := cfg.KnowledgeBase
	switch kb.Backend {
	case "pgvector":
		s, err := retrieval.NewPGVectorStore(ctx, kb.DSN, kb.Table)
		if err != nil {
			return nil, fmt.Errorf("opening pgvector store: %w", err)
		}
		return s, nil
	case "qdrant":
		s, err := retrieval.NewQdrantStore(retrieval.QdrantConfig{
			URL:        kb.QdrantURL,
			Collection: kb.Collection,
			APIKey:     kb.QdrantAPIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("opening qdrant store: %w", err)
		}
		return s, nil
	default:
		s, err := retrieval.NewSQLiteStore(store.DB(), kb.Table)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite vector store: %w", err)
		}
		return s, nil
	}
}

func (a *app) newSessions(ctx context.Context) (conversation.Store, error) {
	ttl := a.cfg.ConversationTTL()
	if a.cfg.Conversation.Backend == "redis" {
		s, err := conversation.NewRedisStore(ctx, a.cfg.Conversation.RedisURL, ttl)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	}
	s := conversation.NewMemoryStore(ttl)
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// newGenerator returns the configured generator and, for ollama, the local
// engine so callers can check model readiness.
func (a *app) newGenerator() (engine.Generator, engine.Local) {
	g := a.cfg.Generator
	if g.Provider == "openrouter" {
		return engine.NewOpenRouterGenerator(g.APIKey, g.BaseURL, g.Model), nil
	}
	baseURL := g.BaseURL
	if baseURL == "" {
		baseURL = a.cfg.Embedding.BaseURL
	}
	local := engine.NewOllamaEngine(baseURL, g.Model, a.cfg.Embedding.Model)
	return local, local
}

func (a *app) newOrchestrator(sessions conversation.Store, gen engine.Generator) *pipeline.Orchestrator {
	threshold := a.cfg.KnowledgeBase.Threshold
	return pipeline.New(a.kb, sessions, gen, pipeline.Options{
		Threshold:     &threshold,
		HistoryWindow: a.cfg.Conversation.HistoryWindow,
		Timeout:       a.cfg.PipelineTimeout(),
		Composer:      composer.New(0),
		Recorder:      a.store,
		Logger:        a.logger.Named("pipeline"),
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
