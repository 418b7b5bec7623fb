package config

import "fmt"

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token for the management API
}

// EmbeddingConfig selects the embedding provider. "ollama" talks to a local
// Ollama instance; "hash" is the deterministic model-free fallback.
type EmbeddingConfig struct {
	Provider       string
	OllamaBaseURL  string
	Model          string
	HashDimensions int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaBaseURL:  "http://localhost:11434",
			Model:          "nomic-embed-text",
			HashDimensions: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend with
// environment-variable overrides.
//
// On macOS the backend is UserDefaults (domain: com.muninn.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/muninn/config.json.
// Environment variables (MUNINN_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	switch cfg.Embedding.Provider {
	case "ollama", "hash":
	default:
		return Config{}, fmt.Errorf("invalid embedding.provider %q (want ollama or hash)", cfg.Embedding.Provider)
	}

	return cfg, nil
}
