// Package config loads lectern settings from the platform-native
// backend, environment variables, and the platform secret store.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Anthropic AnthropicConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Chat      ChatConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // bearer token for document submission; empty disables auth
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir       string
	VectorBackend string // "sqlite" or "postgres"
	PostgresDSN   string
}

type IngestConfig struct {
	DocsDir      string
	ChunkSize    int
	ChunkOverlap int
	Watch        bool
}

type ChatConfig struct {
	MaxToolRounds int
	MaxHistory    int
}

type RetrievalConfig struct {
	MaxResults    int
	MinSimilarity float64
	EmbedCache    int
	EmbedRPS      float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Anthropic: AnthropicConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-sonnet-4-20250514",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			VectorBackend: "sqlite",
		},
		Ingest: IngestConfig{
			DocsDir:      "docs",
			ChunkSize:    800,
			ChunkOverlap: 100,
			Watch:        true,
		},
		Chat: ChatConfig{
			MaxToolRounds: 2,
			MaxHistory:    2,
		},
		Retrieval: RetrievalConfig{
			MaxResults: 5,
			EmbedCache: 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.lectern.app) and the
// Anthropic API key falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/lectern/config.json
// and the key falls back to $XDG_DATA_HOME/lectern/secrets.json.
//
// Environment variables (LECTERN_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the API key if still empty.
	if cfg.Anthropic.APIKey == "" {
		if key, err := kc.Get("lectern", "anthropic_api_key"); err == nil && key != "" {
			cfg.Anthropic.APIKey = key
		}
	}

	if cfg.Anthropic.APIKey == "" {
		msg := "missing required config: Anthropic API key. " +
			"Set it via environment variable LECTERN_ANTHROPIC_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
