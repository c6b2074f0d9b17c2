package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort      = 11435
	defaultLocalURL  = "http://localhost:11434"
	defaultRemoteURL = "https://ollama.com"
)

// Environment variables recognised as overrides. The remote API key is
// env-first so it never has to live in the YAML file.
const (
	envAPIKey    = "TURBO_API_KEY"
	envRemoteURL = "TURBO_REMOTE_URL"
	envLocalURL  = "OLLAMA_HOST"
	envPort      = "PORT"
)

// Config represents the application configuration parsed from YAML with
// environment overrides applied.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Local     BackendConfig   `yaml:"local"`
	Remote    RemoteConfig    `yaml:"remote"`
	Routing   RoutingConfig   `yaml:"routing"`
	Streaming StreamingConfig `yaml:"streaming"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// BackendConfig locates the local runtime.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RemoteConfig locates the authenticated remote runtime and names the models
// that must be routed to it.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// RoutingConfig controls the fallback for requests that carry no model name.
type RoutingConfig struct {
	DefaultBackend string `yaml:"default_backend"`
}

// StreamingConfig allows disabling SSE streaming globally.
type StreamingConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// StreamingEnabled reports the effective streaming switch (default on).
func (c Config) StreamingEnabled() bool {
	if c.Streaming.Enabled == nil {
		return true
	}
	return *c.Streaming.Enabled
}

// Load reads YAML configuration from disk, applies .env/environment
// overrides, and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (Config, error) {
	// A missing .env file is not an error; explicit environment still applies.
	_ = godotenv.Load()

	cfg := Config{
		Server: ServerConfig{Port: defaultPort},
		Local:  BackendConfig{BaseURL: defaultLocalURL},
		Remote: RemoteConfig{BaseURL: defaultRemoteURL},
		Routing: RoutingConfig{
			DefaultBackend: "local",
		},
	}

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv(envRemoteURL); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv(envLocalURL); v != "" {
		cfg.Local.BaseURL = v
	}
	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// Validate performs strict sanity checks on the configuration. A missing
// remote credential is rejected here so the process refuses to start rather
// than failing per request.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Local.BaseURL) == "" {
		return fmt.Errorf("local.base_url must be provided")
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.base_url must be provided")
	}
	if strings.TrimSpace(c.Remote.APIKey) == "" {
		return fmt.Errorf("remote api key must be provided (set %s)", envAPIKey)
	}
	for _, name := range c.Remote.Models {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("remote.models must not contain empty names")
		}
	}
	switch c.Routing.DefaultBackend {
	case "local", "remote":
	default:
		return fmt.Errorf("routing.default_backend %q must be %q or %q", c.Routing.DefaultBackend, "local", "remote")
	}
	return nil
}
