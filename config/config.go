package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Router    RouterConfig    `mapstructure:"router"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Research  ResearchConfig  `mapstructure:"research"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug              bool          `mapstructure:"debug"`
	LogLevel           string        `mapstructure:"log_level"`
	MaxProcessingTime  time.Duration `mapstructure:"max_processing_time"`
	ClassifyTimeout    time.Duration `mapstructure:"classify_timeout"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
	Fallback  LLMFallbackConfig      `mapstructure:"fallback"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, deepseek
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different pipeline tasks
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // complexity labelling
	Routing        string `mapstructure:"routing"`        // semantic fallback routing
	FastAnswer     string `mapstructure:"fast_answer"`    // simple-query direct answers
	Worker         string `mapstructure:"worker"`         // specialist worker calls
	Research       string `mapstructure:"research"`       // research synthesis
	Synthesis      string `mapstructure:"synthesis"`      // final combine step
}

// LLMFallbackConfig names the primary and secondary provider for every call
type LLMFallbackConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers: at least one provider required")
	}
	if strings.TrimSpace(l.Fallback.Primary) == "" {
		return fmt.Errorf("llm.fallback.primary required")
	}
	if _, ok := l.Providers[l.Fallback.Primary]; !ok {
		return fmt.Errorf("llm.fallback.primary %q not in llm.providers", l.Fallback.Primary)
	}
	if l.Fallback.Secondary != "" {
		if _, ok := l.Providers[l.Fallback.Secondary]; !ok {
			return fmt.Errorf("llm.fallback.secondary %q not in llm.providers", l.Fallback.Secondary)
		}
	}

	// Every routing key must resolve against each fallback provider's model
	// map, otherwise a failover call dies on the secondary with an unknown
	// model. Providers alias foreign keys via api_name.
	tasks := map[string]string{
		"classification": l.Routing.Classification,
		"routing":        l.Routing.Routing,
		"fast_answer":    l.Routing.FastAnswer,
		"worker":         l.Routing.Worker,
		"research":       l.Routing.Research,
		"synthesis":      l.Routing.Synthesis,
	}
	for _, name := range []string{l.Fallback.Primary, l.Fallback.Secondary} {
		if name == "" {
			continue
		}
		for task, key := range tasks {
			if key == "" {
				continue
			}
			if _, ok := l.Providers[name].Models[key]; !ok {
				return fmt.Errorf("llm.routing.%s: model %q not configured for provider %q", task, key, name)
			}
		}
	}
	return nil
}

// RouterConfig controls the probabilistic router and its escalation rule
type RouterConfig struct {
	ModelPath     string             `mapstructure:"model_path"`
	Thresholds    map[string]float64 `mapstructure:"thresholds"`
	UncertainBand float64            `mapstructure:"uncertain_band"`
	DefaultWorker string             `mapstructure:"default_worker"`
}

// Normalize applies the tuned per-worker defaults when values are omitted.
// Thresholds offset class imbalance in the routing model: market over-predicts,
// leadgen under-predicts.
func (r RouterConfig) Normalize() RouterConfig {
	if r.Thresholds == nil {
		r.Thresholds = map[string]float64{}
	}
	defaults := map[string]float64{
		"market":     0.55,
		"financial":  0.45,
		"operations": 0.45,
		"leadgen":    0.35,
	}
	for id, v := range defaults {
		if _, ok := r.Thresholds[id]; !ok {
			r.Thresholds[id] = v
		}
	}
	if r.UncertainBand <= 0 {
		r.UncertainBand = 0.3
	}
	if strings.TrimSpace(r.DefaultWorker) == "" {
		r.DefaultWorker = "general"
	}
	return r
}

func (r RouterConfig) Validate() error {
	for id, v := range r.Thresholds {
		if v < 0 || v > 1 {
			return fmt.Errorf("router.thresholds.%s must be in [0,1]", id)
		}
	}
	if r.UncertainBand < 0 || r.UncertainBand > 1 {
		return fmt.Errorf("router.uncertain_band must be in [0,1]")
	}
	return nil
}

// CacheConfig contains cache backend and tier settings
type CacheConfig struct {
	Enabled   bool             `mapstructure:"enabled"`
	Namespace string           `mapstructure:"namespace"`
	Redis     RedisConfig      `mapstructure:"redis"`
	File      FileCacheConfig  `mapstructure:"file"`
	Tiers     CacheTiersConfig `mapstructure:"tiers"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FileCacheConfig contains local-disk fallback settings
type FileCacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// CacheTiersConfig holds one TTL per named tier
type CacheTiersConfig struct {
	Reference  time.Duration `mapstructure:"reference"`
	Worker     time.Duration `mapstructure:"worker"`
	Synthesis  time.Duration `mapstructure:"synthesis"`
	FastAnswer time.Duration `mapstructure:"fast_answer"`
}

// Normalize applies the stock TTLs: reference material is stable for days,
// worker and synthesis output for about a day.
func (c CacheConfig) Normalize() CacheConfig {
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = "quorum"
	}
	if c.File.Dir == "" {
		c.File.Dir = ".cache"
	}
	if c.Tiers.Reference <= 0 {
		c.Tiers.Reference = 7 * 24 * time.Hour
	}
	if c.Tiers.Worker <= 0 {
		c.Tiers.Worker = 24 * time.Hour
	}
	if c.Tiers.Synthesis <= 0 {
		c.Tiers.Synthesis = 24 * time.Hour
	}
	if c.Tiers.FastAnswer <= 0 {
		c.Tiers.FastAnswer = 7 * 24 * time.Hour
	}
	if c.Redis.Timeout <= 0 {
		c.Redis.Timeout = 2 * time.Second
	}
	return c
}

// ResearchConfig contains reference-document retrieval settings
type ResearchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TopK               int           `mapstructure:"top_k"`
	SourceTimeout      time.Duration `mapstructure:"source_timeout"`
	SemanticScholarKey string        `mapstructure:"semantic_scholar_key"`
}

func (r ResearchConfig) Normalize() ResearchConfig {
	if r.TopK <= 0 {
		r.TopK = 3
	}
	if r.SourceTimeout <= 0 {
		r.SourceTimeout = 10 * time.Second
	}
	return r
}

// WorkersConfig contains worker execution settings
type WorkersConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func (w WorkersConfig) Normalize() WorkersConfig {
	if w.MaxConcurrent <= 0 {
		w.MaxConcurrent = 6
	}
	if w.Timeout <= 0 {
		w.Timeout = 90 * time.Second
	}
	return w
}

// TelemetryConfig contains telemetry and cost tracking settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "5m")
	viper.SetDefault("general.classify_timeout", "10s")
	viper.SetDefault("general.max_history_messages", 10)
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("research.enabled", true)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUORUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	config.Router = config.Router.Normalize()
	config.Cache = config.Cache.Normalize()
	config.Research = config.Research.Normalize()
	config.Workers = config.Workers.Normalize()

	if err := config.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := config.Router.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
