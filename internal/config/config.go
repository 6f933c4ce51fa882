package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 3000
	defaultBaseURL       = "https://api.openai.com/v1"
	defaultPrimaryModel  = "gpt-4o-mini"
	defaultFallbackModel = "gpt-3.5-turbo-0125"
	defaultTimeout       = 20 * time.Second
)

// Environment variables honoured on top of the YAML file.
const (
	EnvAPIKey = "OPENAI_API_KEY"
	EnvModel  = "OPENAI_MODEL"
	EnvPort   = "PORT"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Upstream UpstreamConfig   `yaml:"upstream"`
	Reply    GenerationConfig `yaml:"reply"`
	Score    GenerationConfig `yaml:"score"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port             int      `yaml:"port"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// UpstreamConfig captures authentication and routing info for the
// completion API.
type UpstreamConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	PrimaryModel  string        `yaml:"primary_model"`
	FallbackModel string        `yaml:"fallback_model"`
	Timeout       time.Duration `yaml:"timeout"`
	Headers       Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with an upstream request.
type Headers map[string]string

// GenerationConfig holds the sampling parameters for one pipeline.
type GenerationConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Candidates returns the ordered model list tried for every request.
func (u UpstreamConfig) Candidates() []string {
	out := []string{u.PrimaryModel}
	if fb := strings.TrimSpace(u.FallbackModel); fb != "" && fb != u.PrimaryModel {
		out = append(out, fb)
	}
	return out
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:             defaultPort,
			CORSAllowOrigins: []string{"*"},
		},
		Upstream: UpstreamConfig{
			BaseURL:       defaultBaseURL,
			PrimaryModel:  defaultPrimaryModel,
			FallbackModel: defaultFallbackModel,
			Timeout:       defaultTimeout,
		},
		Reply: GenerationConfig{
			MaxTokens:   180,
			Temperature: 0.7,
		},
		Score: GenerationConfig{
			MaxTokens:   240,
			Temperature: 0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads YAML configuration from disk on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()

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

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIKey); ok && strings.TrimSpace(v) != "" {
		c.Upstream.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvModel); ok && strings.TrimSpace(v) != "" {
		c.Upstream.PrimaryModel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if err := validateUpstream(c.Upstream); err != nil {
		return err
	}
	if err := validateGeneration("reply", c.Reply); err != nil {
		return err
	}
	if err := validateGeneration("score", c.Score); err != nil {
		return err
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("logging.format %q must be \"json\" or \"text\"", c.Logging.Format)
	}

	return nil
}

func validateUpstream(u UpstreamConfig) error {
	if strings.TrimSpace(u.APIKey) == "" {
		return fmt.Errorf("upstream.api_key must be provided (or set %s)", EnvAPIKey)
	}
	if strings.TrimSpace(u.BaseURL) == "" {
		return errors.New("upstream.base_url must be provided")
	}
	if strings.TrimSpace(u.PrimaryModel) == "" {
		return errors.New("upstream.primary_model must not be empty")
	}
	if u.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", u.Timeout)
	}

	for headerKey := range u.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("upstream: header %q is not a valid canonical HTTP header", headerKey)
		}
	}
	return nil
}

func validateGeneration(name string, g GenerationConfig) error {
	if g.MaxTokens <= 0 {
		return fmt.Errorf("%s.max_tokens must be positive, got %d", name, g.MaxTokens)
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("%s.temperature must be within [0,2], got %g", name, g.Temperature)
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
