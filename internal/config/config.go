package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Paths      PathsConfig
	Classifier ClassifierConfig
	Extraction ExtractionConfig
	Instagram  InstagramConfig
	Database   DatabaseConfig
	Schedule   ScheduleConfig
}

// ServerConfig holds HTTP server runtime parameters for serve mode.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// PathsConfig locates the datastore and the published output.
type PathsConfig struct {
	Datastore    string `env:"DATASTORE_DIR" envDefault:"/datastore"`
	EventsDir    string `env:"EVENTS_DIR" envDefault:"data/_events"`
	Template     string `env:"TEMPLATE_PATH" envDefault:"data/template.qmd"`
	Accounts     string `env:"ACCOUNTS" envDefault:"data/accounts.txt"`
	ProfileCache string `env:"PROFILE_CACHE_DIR"`
}

// ClassifierConfig controls listing classification.
type ClassifierConfig struct {
	Threshold        float64       `env:"EVENT_LISTING_THRESHOLD" envDefault:"0.30"`
	EmbeddingURL     string        `env:"EMBEDDING_URL"`
	EmbeddingTimeout time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"60s"`
	Concurrency      int           `env:"CLASSIFY_CONCURRENCY" envDefault:"4"`
}

// ExtractionConfig selects and configures the completion provider.
type ExtractionConfig struct {
	Provider        string        `env:"EXTRACTION_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"ANTHROPIC_MODEL" envDefault:"claude-3-5-haiku-latest"`
	Timeout         time.Duration `env:"EXTRACTION_TIMEOUT" envDefault:"120s"`
	MaxImages       int           `env:"EXTRACTION_MAX_IMAGES" envDefault:"3"`
	RequiredFields  string        `env:"EVENT_REQUIRED_FIELDS_POLICY" envDefault:"minimal"`
}

// InstagramConfig configures the capture and identity lookup client.
type InstagramConfig struct {
	SessionFile string        `env:"INSTAGRAM_SESSION_FILE" envDefault:"/secure/instagram_session.json"`
	APIURL      string        `env:"INSTAGRAM_API_URL" envDefault:"https://i.instagram.com/api/v1"`
	PostLimit   int           `env:"INSTAGRAM_POST_LIMIT" envDefault:"20"`
	Timeout     time.Duration `env:"INSTAGRAM_TIMEOUT" envDefault:"60s"`
	CacheTTL    time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"168h"`
}

// DatabaseConfig configures the optional outcome ledger.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

// ScheduleConfig configures serve mode.
type ScheduleConfig struct {
	Cron     string `env:"SCHEDULE_CRON" envDefault:"0 */6 * * *"`
	Timezone string `env:"SCHEDULE_TIMEZONE" envDefault:"UTC"`
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	sections := []any{&cfg.Paths, &cfg.Classifier, &cfg.Extraction, &cfg.Instagram, &cfg.Database, &cfg.Schedule}
	for _, section := range sections {
		if err := env.Parse(section); err != nil {
			return Config{}, fmt.Errorf("invalid pipeline configuration: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return fmt.Errorf("invalid EVENT_LISTING_THRESHOLD: must be between 0 and 1")
	}
	if c.Classifier.Concurrency < 1 {
		return fmt.Errorf("invalid CLASSIFY_CONCURRENCY: must be at least 1")
	}
	switch c.Extraction.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid EXTRACTION_PROVIDER: must be 'openai' or 'anthropic'")
	}
	switch c.Extraction.RequiredFields {
	case "minimal", "strict":
	default:
		return fmt.Errorf("invalid EVENT_REQUIRED_FIELDS_POLICY: must be 'minimal' or 'strict'")
	}
	if c.Extraction.MaxImages < 0 {
		return fmt.Errorf("invalid EXTRACTION_MAX_IMAGES: must be non-negative")
	}
	return nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
