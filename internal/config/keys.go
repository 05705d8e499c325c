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
		key: "server.port", typ: kInt, env: "LECTERN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "LECTERN_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "LECTERN_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "anthropic.base_url", typ: kString, env: "LECTERN_ANTHROPIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.BaseURL },
	},
	{
		key: "anthropic.model", typ: kString, env: "LECTERN_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "LECTERN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "LECTERN_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LECTERN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.vector_backend", typ: kString, env: "LECTERN_STORAGE_VECTOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.VectorBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.VectorBackend },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "LECTERN_STORAGE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "ingest.docs_dir", typ: kString, env: "LECTERN_INGEST_DOCS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Ingest.DocsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.DocsDir },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "LECTERN_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "LECTERN_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.watch", typ: kBool, env: "LECTERN_INGEST_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.Watch },
	},
	{
		key: "chat.max_tool_rounds", typ: kInt, env: "LECTERN_CHAT_MAX_TOOL_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxToolRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxToolRounds },
	},
	{
		key: "chat.max_history", typ: kInt, env: "LECTERN_CHAT_MAX_HISTORY",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxHistory = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxHistory },
	},
	{
		key: "retrieval.max_results", typ: kInt, env: "LECTERN_RETRIEVAL_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxResults },
	},
	{
		key: "retrieval.min_similarity", typ: kFloat, env: "LECTERN_RETRIEVAL_MIN_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinSimilarity = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinSimilarity },
	},
	{
		key: "retrieval.embed_cache", typ: kInt, env: "LECTERN_RETRIEVAL_EMBED_CACHE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.EmbedCache = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.EmbedCache },
	},
	{
		key: "retrieval.embed_rps", typ: kFloat, env: "LECTERN_RETRIEVAL_EMBED_RPS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.EmbedRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.EmbedRPS },
	},
	{
		key: "log.level", typ: kString, env: "LECTERN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
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
