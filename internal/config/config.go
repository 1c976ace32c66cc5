package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Generator     GeneratorConfig
	Embedding     EmbeddingConfig
	KnowledgeBase KnowledgeBaseConfig
	Conversation  ConversationConfig
	Pipeline      PipelineConfig
	Storage       StorageConfig
	Log           LogConfig
	Tracing       TracingConfig
	Eval          EvalConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins string
}

// GeneratorConfig selects the text-generation provider. Provider is
// "ollama" or "openrouter"; APIKey is only read from the environment.
// An empty BaseURL means the provider default: embedding.base_url for
// ollama, the public endpoint for openrouter.
type GeneratorConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
}

// KnowledgeBaseConfig selects the vector store holding the medical Q&A pairs.
// Backend is one of "sqlite", "pgvector" or "qdrant".
type KnowledgeBaseConfig struct {
	Backend      string
	DSN          string
	Table        string
	QdrantURL    string
	Collection   string
	QdrantAPIKey string
	Threshold    float64
}

type ConversationConfig struct {
	Backend       string
	RedisURL      string
	TTL           string
	HistoryWindow int
}

type PipelineConfig struct {
	Timeout string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	File  string
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type EvalConfig struct {
	Dataset string
	Samples int
	Seed    int
}

// ConversationTTL parses Conversation.TTL, falling back to 24h.
func (c Config) ConversationTTL() time.Duration {
	return parseDuration(c.Conversation.TTL, 24*time.Hour)
}

// PipelineTimeout parses Pipeline.Timeout, falling back to 30s.
func (c Config) PipelineTimeout() time.Duration {
	return parseDuration(c.Pipeline.Timeout, 30*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8181,
			CORSOrigins: "*",
		},
		Generator: GeneratorConfig{
			Provider: "ollama",
			Model:    "mistral-nemo",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Backend:    "sqlite",
			Table:      "medical_qa",
			QdrantURL:  "localhost:6334",
			Collection: "medical_qa",
			Threshold:  0.2,
		},
		Conversation: ConversationConfig{
			Backend:       "memory",
			RedisURL:      "redis://localhost:6379/0",
			TTL:           "24h",
			HistoryWindow: 10,
		},
		Pipeline: PipelineConfig{
			Timeout: "30s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Endpoint: "localhost:4318",
		},
		Eval: EvalConfig{
			Dataset: "./downloaded_files/medquad.csv",
			Samples: 10,
			Seed:    42,
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory (if present), and SORAKA_* environment variables.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/soraka/config.json.
// Environment variables override file values; secrets are env-only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Generator.Provider {
	case "ollama":
	case "openrouter":
		if cfg.Generator.APIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. Set it via environment variable SORAKA_GENERATOR_API_KEY")
		}
	default:
		return fmt.Errorf("invalid generator.provider %q: want ollama or openrouter", cfg.Generator.Provider)
	}
	switch cfg.KnowledgeBase.Backend {
	case "sqlite", "qdrant":
	case "pgvector":
		if cfg.KnowledgeBase.DSN == "" {
			return fmt.Errorf("missing required config: knowledge_base.dsn for pgvector backend")
		}
	default:
		return fmt.Errorf("invalid knowledge_base.backend %q: want sqlite, pgvector or qdrant", cfg.KnowledgeBase.Backend)
	}
	switch cfg.Conversation.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid conversation.backend %q: want memory or redis", cfg.Conversation.Backend)
	}
	if cfg.KnowledgeBase.Threshold < 0 {
		return fmt.Errorf("knowledge_base.threshold must not be negative, got %g", cfg.KnowledgeBase.Threshold)
	}
	if cfg.Conversation.HistoryWindow < 1 {
		return fmt.Errorf("conversation.history_window must be at least 1, got %d", cfg.Conversation.HistoryWindow)
	}
	return nil
}
