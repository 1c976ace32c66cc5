package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SORAKA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SORAKA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "SORAKA_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "generator.provider", typ: kString, env: "SORAKA_GENERATOR_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generator.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Provider },
	},
	{
		key: "generator.model", typ: kString, env: "SORAKA_GENERATOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Model },
	},
	{
		key: "generator.base_url", typ: kString, env: "SORAKA_GENERATOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.BaseURL },
	},
	{
		key: "generator.api_key", typ: kString, env: "SORAKA_GENERATOR_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generator.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.APIKey },
	},
	{
		key: "embedding.base_url", typ: kString, env: "SORAKA_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: "SORAKA_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "knowledge_base.backend", typ: kString, env: "SORAKA_KB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.Backend },
	},
	{
		key: "knowledge_base.dsn", typ: kString, env: "SORAKA_KB_DSN",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.DSN },
	},
	{
		key: "knowledge_base.table", typ: kString, env: "SORAKA_KB_TABLE",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.Table },
	},
	{
		key: "knowledge_base.qdrant_url", typ: kString, env: "SORAKA_KB_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.QdrantURL },
	},
	{
		key: "knowledge_base.collection", typ: kString, env: "SORAKA_KB_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.Collection },
	},
	{
		key: "knowledge_base.qdrant_api_key", typ: kString, env: "SORAKA_KB_QDRANT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.QdrantAPIKey },
	},
	{
		key: "knowledge_base.threshold", typ: kFloat, env: "SORAKA_KB_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.KnowledgeBase.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.KnowledgeBase.Threshold },
	},
	{
		key: "conversation.backend", typ: kString, env: "SORAKA_CONVERSATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.Backend },
	},
	{
		key: "conversation.redis_url", typ: kString, env: "SORAKA_CONVERSATION_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Conversation.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.RedisURL },
	},
	{
		key: "conversation.ttl", typ: kString, env: "SORAKA_CONVERSATION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Conversation.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Conversation.TTL },
	},
	{
		key: "conversation.history_window", typ: kInt, env: "SORAKA_CONVERSATION_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Conversation.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.HistoryWindow },
	},
	{
		key: "pipeline.timeout", typ: kString, env: "SORAKA_PIPELINE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SORAKA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SORAKA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "SORAKA_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "tracing.enabled", typ: kBool, env: "SORAKA_TRACING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Tracing.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Tracing.Enabled },
	},
	{
		key: "tracing.endpoint", typ: kString, env: "SORAKA_TRACING_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Tracing.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracing.Endpoint },
	},
	{
		key: "eval.dataset", typ: kString, env: "SORAKA_EVAL_DATASET",
		apply:   func(cfg *Config, v any) { cfg.Eval.Dataset = v.(string) },
		extract: func(cfg Config) any { return cfg.Eval.Dataset },
	},
	{
		key: "eval.samples", typ: kInt, env: "SORAKA_EVAL_SAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Eval.Samples = v.(int) },
		extract: func(cfg Config) any { return cfg.Eval.Samples },
	},
	{
		key: "eval.seed", typ: kInt, env: "SORAKA_EVAL_SEED",
		apply:   func(cfg *Config, v any) { cfg.Eval.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Eval.Seed },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
