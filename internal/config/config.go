package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. DEEPTRACE_LOG_LEVEL.
const EnvPrefix = "DEEPTRACE"

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Email      EmailConfig      `yaml:"email" mapstructure:"email"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Path        string            `yaml:"path" mapstructure:"path"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ResearchConfig tunes pipeline runs.
type ResearchConfig struct {
	DefaultMode         string      `yaml:"default_mode" mapstructure:"default_mode"`
	SearchTimeoutSecs   int         `yaml:"search_timeout_secs" mapstructure:"search_timeout_secs"`
	Concurrency         int         `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit           float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	EventBuffer         int         `yaml:"event_buffer" mapstructure:"event_buffer"`
	BreakerThreshold    int         `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int         `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	Clarify             bool        `yaml:"clarify" mapstructure:"clarify"`
	Planning            RetryConfig `yaml:"planning_retry" mapstructure:"planning_retry"`
	Search              RetryConfig `yaml:"search_retry" mapstructure:"search_retry"`
	Writing             RetryConfig `yaml:"writing_retry" mapstructure:"writing_retry"`
}

// SearchTimeout returns the per-search timeout as a duration.
func (c ResearchConfig) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSecs) * time.Second
}

// RetryConfig holds one stage's retry preset.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	PlannerModel   string `yaml:"planner_model" mapstructure:"planner_model"`
	ClarifierModel string `yaml:"clarifier_model" mapstructure:"clarifier_model"`
	WriterModel    string `yaml:"writer_model" mapstructure:"writer_model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	MaxResults    int    `yaml:"max_results" mapstructure:"max_results"`
}

// NotionConfig holds the Notion token and the reports database.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	ReportDB  string  `yaml:"report_db" mapstructure:"report_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ExportConfig configures file exports.
type ExportConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"`
}

// EmailConfig configures SMTP delivery of finished reports.
type EmailConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
	Subject  string   `yaml:"subject" mapstructure:"subject"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "deeptrace.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("research.default_mode", "quick")
	v.SetDefault("research.search_timeout_secs", 60)
	v.SetDefault("research.concurrency", 20)
	v.SetDefault("research.rate_limit", 0)
	v.SetDefault("research.event_buffer", 64)
	v.SetDefault("research.breaker_threshold", 5)
	v.SetDefault("research.breaker_cooldown_secs", 30)
	v.SetDefault("research.clarify", false)
	v.SetDefault("research.planning_retry.max_attempts", 3)
	v.SetDefault("research.planning_retry.initial_backoff", "1s")
	v.SetDefault("research.planning_retry.max_backoff", "10s")
	v.SetDefault("research.search_retry.max_attempts", 3)
	v.SetDefault("research.search_retry.initial_backoff", "1s")
	v.SetDefault("research.search_retry.max_backoff", "5s")
	v.SetDefault("research.writing_retry.max_attempts", 3)
	v.SetDefault("research.writing_retry.initial_backoff", "2s")
	v.SetDefault("research.writing_retry.max_backoff", "15s")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.planner_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.clarifier_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.writer_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.max_results", 5)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.report_db", "")
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.formats", []string{"md"})
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})
	v.SetDefault("email.subject", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of research,
// serve, mcp or reports. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	needsResearch := false
	switch mode {
	case "research", "mcp":
		needsResearch = true
	case "serve":
		needsResearch = true
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	case "reports":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsResearch {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Perplexity.Key == "" && c.Jina.Key == "" {
			errs = append(errs, "perplexity.key or jina.key is required")
		}
		if _, err := model.ParseMode(c.Research.DefaultMode); err != nil {
			errs = append(errs, "research.default_mode must be quick or deep")
		}
		if c.Research.Concurrency < 0 || c.Research.Concurrency > model.HardCapSources {
			errs = append(errs, fmt.Sprintf("research.concurrency must be between 0 and %d", model.HardCapSources))
		}
		if c.Research.EventBuffer < 0 {
			errs = append(errs, "research.event_buffer must be >= 0")
		}
		if c.Research.RateLimit < 0 {
			errs = append(errs, "research.rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
