package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	LLM         LLMConfig
	Storage     StorageConfig
	Jobs        JobsConfig
	Pipeline    PipelineConfig
	Compression CompressionConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
	File  string
}

// LLMConfig selects the completion provider. Provider "template" runs
// without a model.
type LLMConfig struct {
	Provider         string
	Model            string
	MaxRetries       int
	OpenRouterAPIKey string
	GeminiAPIKey     string
	GeminiModel      string
}

type StorageConfig struct {
	DataDir string
}

// JobsConfig selects the job queue backend: "sqlite" or "redis".
type JobsConfig struct {
	Backend      string
	RedisAddr    string
	PollInterval time.Duration
	Workers      int
}

type PipelineConfig struct {
	DirectMaxDepth int
	DirectTimeout  time.Duration
	ChunkSize      int
	ChunkDelay     time.Duration
	LayerRetries   int
	ContextWindow  int
	Seed           int
	// WorkerURL, when set, sends chunks to a remote instance instead of
	// processing them in-process.
	WorkerURL string
	// WorkerToken guards the chunk endpoint and is sent to WorkerURL.
	WorkerToken    string
	ArchetypesFile string
}

type CompressionConfig struct {
	CacheSize int
}

// Providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderTemplate   = "template"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Log:    LogConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:    ProviderOpenRouter,
			Model:       "anthropic/claude-sonnet-4",
			MaxRetries:  3,
			GeminiModel: "gemini-2.5-flash",
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Jobs: JobsConfig{
			Backend:      "sqlite",
			RedisAddr:    "localhost:6379",
			PollInterval: 500 * time.Millisecond,
			Workers:      2,
		},
		Pipeline: PipelineConfig{
			DirectMaxDepth: 3,
			DirectTimeout:  30 * time.Second,
			ChunkSize:      2,
			ChunkDelay:     time.Second,
			LayerRetries:   1,
			ContextWindow:  6,
		},
		Compression: CompressionConfig{CacheSize: 256},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.genius.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/genius/config.json
// and secrets fall back to $XDG_DATA_HOME/genius/secrets.json.
//
// Environment variables (GENIUS_*) override backend values on all platforms.
// Variables from .env never override ones already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// ConfigBackend is the platform store for non-secret keys: UserDefaults on
// macOS, a JSON file elsewhere.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for API keys that are still empty.
	if cfg.LLM.OpenRouterAPIKey == "" {
		if key, err := kc.Get(secretService, "openrouter_api_key"); err == nil && key != "" {
			cfg.LLM.OpenRouterAPIKey = key
		}
	}
	if cfg.LLM.GeminiAPIKey == "" {
		if key, err := kc.Get(secretService, "gemini_api_key"); err == nil && key != "" {
			cfg.LLM.GeminiAPIKey = key
		}
	}
	if cfg.Pipeline.WorkerToken == "" {
		if key, err := kc.Get(secretService, "worker_token"); err == nil && key != "" {
			cfg.Pipeline.WorkerToken = key
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case ProviderOpenRouter:
		if cfg.LLM.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. "+
				"Set it via environment variable GENIUS_OPENROUTER_API_KEY%s, "+
				"or set llm.provider to %q", apiKeyHint("openrouter_api_key"), ProviderTemplate)
		}
	case ProviderGemini:
		if cfg.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. "+
				"Set it via environment variable GENIUS_GEMINI_API_KEY%s", apiKeyHint("gemini_api_key"))
		}
	case ProviderTemplate:
	default:
		return fmt.Errorf("invalid llm.provider %q: want %s, %s or %s",
			cfg.LLM.Provider, ProviderOpenRouter, ProviderGemini, ProviderTemplate)
	}

	switch cfg.Jobs.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("invalid jobs.backend %q: want sqlite or redis", cfg.Jobs.Backend)
	}
	if cfg.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("invalid pipeline.chunk_size %d: must be >= 1", cfg.Pipeline.ChunkSize)
	}
	if cfg.Pipeline.DirectTimeout <= 0 {
		return fmt.Errorf("invalid pipeline.direct_timeout %s: must be positive", cfg.Pipeline.DirectTimeout)
	}
	return nil
}

const secretService = "genius"

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
