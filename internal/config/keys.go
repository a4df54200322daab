package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "GENIUS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "GENIUS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "GENIUS_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "llm.provider", typ: kString, env: "GENIUS_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "GENIUS_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.max_retries", typ: kInt, env: "GENIUS_LLM_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxRetries },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "GENIUS_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.gemini_api_key", typ: kString, env: "GENIUS_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiAPIKey },
	},
	{
		key: "llm.gemini_model", typ: kString, env: "GENIUS_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GENIUS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "jobs.backend", typ: kString, env: "GENIUS_JOBS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.Backend },
	},
	{
		key: "jobs.redis_addr", typ: kString, env: "GENIUS_JOBS_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Jobs.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.RedisAddr },
	},
	{
		key: "jobs.poll_interval", typ: kDuration, env: "GENIUS_JOBS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Jobs.PollInterval },
	},
	{
		key: "jobs.workers", typ: kInt, env: "GENIUS_JOBS_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.Workers },
	},
	{
		key: "pipeline.direct_max_depth", typ: kInt, env: "GENIUS_PIPELINE_DIRECT_MAX_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DirectMaxDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.DirectMaxDepth },
	},
	{
		key: "pipeline.direct_timeout", typ: kDuration, env: "GENIUS_PIPELINE_DIRECT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.DirectTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.DirectTimeout },
	},
	{
		key: "pipeline.chunk_size", typ: kInt, env: "GENIUS_PIPELINE_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.ChunkSize },
	},
	{
		key: "pipeline.chunk_delay", typ: kDuration, env: "GENIUS_PIPELINE_CHUNK_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ChunkDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.ChunkDelay },
	},
	{
		key: "pipeline.layer_retries", typ: kInt, env: "GENIUS_PIPELINE_LAYER_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.LayerRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.LayerRetries },
	},
	{
		key: "pipeline.context_window", typ: kInt, env: "GENIUS_PIPELINE_CONTEXT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ContextWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.ContextWindow },
	},
	{
		key: "pipeline.seed", typ: kInt, env: "GENIUS_PIPELINE_SEED",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Seed },
	},
	{
		key: "pipeline.worker_url", typ: kString, env: "GENIUS_PIPELINE_WORKER_URL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.WorkerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.WorkerURL },
	},
	{
		key: "pipeline.worker_token", typ: kString, env: "GENIUS_PIPELINE_WORKER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Pipeline.WorkerToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.WorkerToken },
	},
	{
		key: "pipeline.archetypes_file", typ: kString, env: "GENIUS_PIPELINE_ARCHETYPES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ArchetypesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.ArchetypesFile },
	},
	{
		key: "compression.cache_size", typ: kInt, env: "GENIUS_COMPRESSION_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Compression.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Compression.CacheSize },
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
