package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// Emojis is the accepted reaction palette as a comma-separated list.
	// Empty means the built-in five-emoji palette.
	Emojis string `env:"REACTION_EMOJIS"`

	// SubmitInterval is the minimum time between two submits by the same
	// user on the same post. Guards against toggle spam, not correctness.
	SubmitInterval time.Duration `env:"SUBMIT_INTERVAL" default:"1s"`

	// SubmitTimeout bounds a single submit end to end; past it the caller
	// gets a retryable error instead of a hung request.
	SubmitTimeout time.Duration `env:"SUBMIT_TIMEOUT" default:"2s"`

	// BaselineTTL is how long per-post baseline lookups are cached.
	BaselineTTL time.Duration `env:"BASELINE_CACHE_TTL" default:"30s"`

	MaxClientsPerPost int     `env:"MAX_CLIENTS_PER_POST" default:"500"`
	HTTPRatePerSecond float64 `env:"HTTP_RATE_PER_SECOND" default:"10"`
	HTTPRateBurst     int     `env:"HTTP_RATE_BURST" default:"20"`

	// AdminToken guards the reset endpoint when set. Empty disables reset.
	AdminToken string `env:"ADMIN_TOKEN"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.SubmitInterval < 0 {
		return fmt.Errorf("SUBMIT_INTERVAL must not be negative")
	}
	if cfg.SubmitTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT must be positive")
	}
	if cfg.MaxClientsPerPost <= 0 {
		return fmt.Errorf("MAX_CLIENTS_PER_POST must be positive")
	}

	return nil
}

// PaletteEmojis parses the REACTION_EMOJIS list. Nil means "use default".
func (c *Config) PaletteEmojis() []string {
	if strings.TrimSpace(c.Emojis) == "" {
		return nil
	}
	parts := strings.Split(c.Emojis, ",")
	emojis := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			emojis = append(emojis, trimmed)
		}
	}
	return emojis
}
