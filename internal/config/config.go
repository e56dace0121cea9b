package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProviderConfig describes one OpenAI-compatible endpoint the grader may call.
type ProviderConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	Models       []string
	DefaultModel string
	JSONMode     bool
	Timeout      time.Duration
}

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	DataDir     string

	DefaultProvider string
	Providers       map[string]ProviderConfig

	MaxOutputTokens     int
	ImageTokensPerImage int
	PriceInputPer1K     float64
	PriceOutputPer1K    float64

	RetryMaxAttempts int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	QueueKey       string
	LocalQueueSize int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Provider resolves a provider by key, falling back to the default provider
// when the key is empty. Unknown keys are an error so that job creation can
// reject a bad selection synchronously.
func (c Config) Provider(key string) (ProviderConfig, error) {
	if key == "" {
		key = c.DefaultProvider
	}

	provider, ok := c.Providers[key]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown llm provider %q", key)
	}

	return provider, nil
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADEFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Gradeflow API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("data.dir", "data")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.json_mode", true)
	v.SetDefault("llm.max_output_tokens", 1200)
	v.SetDefault("llm.request_timeout", "120s")
	v.SetDefault("llm.image_tokens_per_image", 0)
	v.SetDefault("llm.price_input_per_1k", 0.0)
	v.SetDefault("llm.price_output_per_1k", 0.0)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.backoff_base", "2s")
	v.SetDefault("retry.backoff_cap", "60s")
	v.SetDefault("queue.key", "gradeflow:jobs")
	v.SetDefault("queue.local_size", 256)

	timeout, err := time.ParseDuration(v.GetString("llm.request_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid llm request timeout: %w", err)
	}

	backoffBase, err := time.ParseDuration(v.GetString("retry.backoff_base"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry backoff base: %w", err)
	}

	backoffCap, err := time.ParseDuration(v.GetString("retry.backoff_cap"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry backoff cap: %w", err)
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		JWTSecret:           v.GetString("jwt.secret"),
		DataDir:             v.GetString("data.dir"),
		DefaultProvider:     strings.ToLower(v.GetString("llm.provider")),
		MaxOutputTokens:     v.GetInt("llm.max_output_tokens"),
		ImageTokensPerImage: v.GetInt("llm.image_tokens_per_image"),
		PriceInputPer1K:     v.GetFloat64("llm.price_input_per_1k"),
		PriceOutputPer1K:    v.GetFloat64("llm.price_output_per_1k"),
		RetryMaxAttempts:    v.GetInt("retry.max_attempts"),
		RetryBackoffBase:    backoffBase,
		RetryBackoffCap:     backoffCap,
		QueueKey:            v.GetString("queue.key"),
		LocalQueueSize:      v.GetInt("queue.local_size"),
	}

	cfg.Providers = map[string]ProviderConfig{
		"openai": {
			Name:         "OpenAI",
			BaseURL:      v.GetString("llm.base_url"),
			APIKey:       v.GetString("llm.api_key"),
			Models:       splitModels(v.GetString("llm.models")),
			DefaultModel: v.GetString("llm.model"),
			JSONMode:     v.GetBool("llm.json_mode"),
			Timeout:      timeout,
		},
	}

	for _, key := range []string{"custom1", "custom2", "custom3"} {
		prefix := "llm." + key + "."
		baseURL := v.GetString(prefix + "base_url")
		if baseURL == "" {
			continue
		}

		name := v.GetString(prefix + "name")
		if name == "" {
			name = key
		}

		model := v.GetString(prefix + "model")
		if model == "" {
			model = v.GetString("llm.model")
		}

		cfg.Providers[key] = ProviderConfig{
			Name:         name,
			BaseURL:      baseURL,
			APIKey:       v.GetString(prefix + "api_key"),
			Models:       splitModels(v.GetString(prefix + "models")),
			DefaultModel: model,
			JSONMode:     v.GetBool("llm.json_mode"),
			Timeout:      timeout,
		}
	}

	if err := validateProviders(cfg); err != nil {
		return Config{}, err
	}

	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 1
	}

	if cfg.LocalQueueSize <= 0 {
		cfg.LocalQueueSize = 256
	}

	return cfg, nil
}

func validateProviders(cfg Config) error {
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return fmt.Errorf("default llm provider %q is not configured", cfg.DefaultProvider)
	}

	for key, provider := range cfg.Providers {
		parsed, err := url.Parse(provider.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("provider %q has malformed base url %q", key, provider.BaseURL)
		}
		if provider.DefaultModel == "" {
			return fmt.Errorf("provider %q has no default model", key)
		}
	}

	return nil
}

func splitModels(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	models := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			models = append(models, trimmed)
		}
	}

	return models
}
