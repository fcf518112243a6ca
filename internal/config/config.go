// Package config loads service configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables (EMBEDCHAT_* plus provider API keys)
//  2. Config file (./config.yaml or /etc/embedchat/config.yaml)
//  3. Defaults
//
// Configuration is validated immediately on load; a bad value stops the
// process before it serves traffic. Secrets are masked in MarshalJSON and
// String so the config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration problems. Check with errors.Is().
var (
	// ErrMissingAPIKey indicates the selected provider's API key is unset.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates an unsupported AI provider.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidDimension indicates an embedding dimension out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("invalid port")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
)

// Config stores the service configuration.
// Sensitive fields are masked in MarshalJSON; update it when adding secrets.
type Config struct {
	// HTTP server
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Storage. Empty DatabaseURL runs everything in memory.
	DatabaseURL string `mapstructure:"database_url" json:"database_url"` // SENSITIVE: masked in MarshalJSON

	// AI provider and models
	Provider      string `mapstructure:"provider" json:"provider"` // "googleai" (default), "ollama", "openai"
	ChatModel     string `mapstructure:"chat_model" json:"chat_model"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedDim      int    `mapstructure:"embed_dim" json:"embed_dim"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIAPIKey  string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Pipeline timing
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	GenerateTimeout   time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`

	// Analytics
	AnalyticsBuffer int `mapstructure:"analytics_buffer" json:"analytics_buffer"`

	// Observability. Empty endpoint disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/embedchat")

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No file is fine; defaults plus environment carry a dev setup.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("shutdown_timeout", "15s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("chat_model", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "text-embedding-004")
	v.SetDefault("embed_dim", 768)
	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("embed_timeout", "15s")
	v.SetDefault("generate_timeout", "30s")
	v.SetDefault("retry_backoff", "500ms")
	v.SetDefault("requests_per_second", 5.0)

	v.SetDefault("analytics_buffer", 256)
}

func bindEnv(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("host", "EMBEDCHAT_HOST")
	mustBind("port", "EMBEDCHAT_PORT")
	mustBind("log_level", "EMBEDCHAT_LOG_LEVEL")
	mustBind("log_json", "EMBEDCHAT_LOG_JSON")
	mustBind("database_url", "DATABASE_URL")
	mustBind("provider", "EMBEDCHAT_PROVIDER")
	mustBind("chat_model", "EMBEDCHAT_CHAT_MODEL")
	mustBind("embedder_model", "EMBEDCHAT_EMBEDDER_MODEL")
	mustBind("embed_dim", "EMBEDCHAT_EMBED_DIM")
	mustBind("ollama_host", "EMBEDCHAT_OLLAMA_HOST")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("otlp_endpoint", "EMBEDCHAT_OTLP_ENDPOINT")
}

// Validate checks the configuration, failing fast on anything the service
// cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	switch c.Provider {
	case ProviderGoogleAI:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host required for provider %q", ErrInvalidProvider, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (expected googleai, ollama, or openai)", ErrInvalidProvider, c.Provider)
	}

	if c.EmbedDim < 1 || c.EmbedDim > 16384 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.EmbedDim)
	}
	if c.ChatModel == "" || c.EmbedderModel == "" {
		return errors.New("chat_model and embedder_model are required")
	}
	if c.EmbedTimeout <= 0 || c.GenerateTimeout <= 0 {
		return errors.New("embed_timeout and generate_timeout must be positive")
	}
	if c.AnalyticsBuffer < 1 {
		return errors.New("analytics_buffer must be positive")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FullChatModel returns the provider-qualified model name for genkit, e.g.
// "googleai/gemini-2.5-flash". A name already containing "/" passes through.
func (c *Config) FullChatModel() string {
	return c.qualify(c.ChatModel)
}

// FullEmbedderModel returns the provider-qualified embedder name.
func (c *Config) FullEmbedderModel() string {
	return c.qualify(c.EmbedderModel)
}

func (c *Config) qualify(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return c.Provider + "/" + name
}

// maskedValue replaces secret content in logs. Full-width blocks avoid
// accidental substring matches against real secret fragments.
const maskedValue = "████████"

// maskSecret shows the first and last two characters of long secrets and
// fully masks short ones.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. Update when adding secrets.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.DatabaseURL = maskSecret(a.DatabaseURL)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so printing a Config never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
