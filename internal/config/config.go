// Package config loads application configuration from file and
// environment, and initializes the global logger.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dlsd-labs/evidence-cli/internal/policy"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	PubMed    PubMedConfig    `yaml:"pubmed" mapstructure:"pubmed"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Workbook  WorkbookConfig  `yaml:"workbook" mapstructure:"workbook"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	PrimaryModel  string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	PrimaryModel  string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	PrimaryModel  string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel string `yaml:"fallback_model" mapstructure:"fallback_model"`
	GroundedModel string `yaml:"grounded_model" mapstructure:"grounded_model"`
}

// PubMedConfig holds NCBI E-utilities settings.
type PubMedConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PolicyConfig points at an optional tier-list overlay file.
type PolicyConfig struct {
	TiersFile string `yaml:"tiers_file" mapstructure:"tiers_file"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxChars      int `yaml:"max_chars" mapstructure:"max_chars"`
	CacheTTLHours int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// PipelineConfig configures extraction behavior.
type PipelineConfig struct {
	Providers           []string `yaml:"providers" mapstructure:"providers"`
	EscalationThreshold float64  `yaml:"escalation_threshold" mapstructure:"escalation_threshold"`
	AIJudge             bool     `yaml:"ai_judge" mapstructure:"ai_judge"`
	ProbeTimeoutSecs    int      `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
}

// WorkbookConfig configures the ingredient input sheet.
type WorkbookConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
	SkipRows int    `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Offset  int `yaml:"offset" mapstructure:"offset"`
	Limit   int `yaml:"limit" mapstructure:"limit"`
	DelayMS int `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "evidence.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.primary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.primary_model", "gpt-4o")
	v.SetDefault("openai.fallback_model", "gpt-4o-mini")
	v.SetDefault("gemini.primary_model", "gemini-1.5-pro")
	v.SetDefault("gemini.fallback_model", "gemini-1.5-flash")
	v.SetDefault("gemini.grounded_model", "gemini-1.5-pro")
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("scrape.timeout_secs", 30)
	v.SetDefault("scrape.max_chars", 3000)
	v.SetDefault("scrape.cache_ttl_hours", 24)
	v.SetDefault("scrape.retry_attempts", 3)
	v.SetDefault("pipeline.providers", []string{"anthropic", "openai", "gemini"})
	v.SetDefault("pipeline.escalation_threshold", 30.0)
	v.SetDefault("pipeline.ai_judge", false)
	v.SetDefault("pipeline.probe_timeout_secs", 10)
	v.SetDefault("workbook.sheet", "")
	v.SetDefault("workbook.skip_rows", 1)
	v.SetDefault("batch.delay_ms", 1000)

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

// LoadTiers returns the source tier lists, merging an overlay file over
// the built-in defaults when one is configured.
func LoadTiers(cfg PolicyConfig) (policy.Lists, error) {
	lists := policy.DefaultLists()
	if cfg.TiersFile == "" {
		return lists, nil
	}

	data, err := os.ReadFile(cfg.TiersFile)
	if err != nil {
		return lists, eris.Wrapf(err, "config: read tiers file %s", cfg.TiersFile)
	}

	var overlay policy.Lists
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return lists, eris.Wrapf(err, "config: parse tiers file %s", cfg.TiersFile)
	}

	return lists.Merge(overlay), nil
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
