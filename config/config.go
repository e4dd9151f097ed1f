// Package config loads engine settings from a YAML file and turns them into
// the objects the rest of the module consumes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agentflow/flows"
	"agentflow/kv"
	"agentflow/nodes"
)

// Config holds all configuration for an agentflow process.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Engine EngineConfig `mapstructure:"engine"`
	LLM    LLMConfig    `mapstructure:"llm"`
	KV     KVConfig     `mapstructure:"kv"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// EngineConfig holds workflow execution defaults.
type EngineConfig struct {
	MaxSteps       int           `mapstructure:"max_steps"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	ClearAction    bool          `mapstructure:"clear_action"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig is the default policy for steps declared with retry.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	Backoff     string        `mapstructure:"backoff"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LLMConfig holds the OpenAI-compatible endpoint settings. An empty APIKey
// makes LLM nodes answer with mock responses.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// KVConfig selects the key-value backend.
type KVConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	Prefix    string `mapstructure:"prefix"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. The process environment is not consulted.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "json")

	v.SetDefault("engine.max_steps", 0)
	v.SetDefault("engine.timeout", "0s")
	v.SetDefault("engine.max_concurrency", 0)
	v.SetDefault("engine.clear_action", false)
	v.SetDefault("engine.retry.max_attempts", 3)
	v.SetDefault("engine.retry.delay", "100ms")
	v.SetDefault("engine.retry.backoff", "exponential")
	v.SetDefault("engine.retry.multiplier", 2.0)
	v.SetDefault("engine.retry.max_delay", "5s")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")

	v.SetDefault("kv.backend", kv.BackendMemory)
	v.SetDefault("kv.path", "")
	v.SetDefault("kv.redis_addr", "")
	v.SetDefault("kv.redis_db", 0)
	v.SetDefault("kv.prefix", "")
}

// Validate rejects settings no component could act on.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding: unknown encoding %q", c.Log.Encoding)
	}
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine.max_steps: must not be negative")
	}
	if c.Engine.Retry.MaxAttempts < 1 {
		return fmt.Errorf("engine.retry.max_attempts: must be at least 1")
	}
	if _, err := nodes.ParseBackoff(c.Engine.Retry.Backoff); err != nil {
		return fmt.Errorf("engine.retry.backoff: %w", err)
	}
	switch strings.ToLower(c.KV.Backend) {
	case kv.BackendMemory, kv.BackendFile, kv.BackendRedis, kv.BackendSQLite:
	default:
		return fmt.Errorf("kv.backend: unknown backend %q", c.KV.Backend)
	}
	return nil
}

// NewLogger builds a zap logger from the log section.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
	}
	return zc.Build()
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() nodes.RetryPolicy {
	backoff, _ := nodes.ParseBackoff(c.Engine.Retry.Backoff)
	return nodes.RetryPolicy{
		MaxAttempts: c.Engine.Retry.MaxAttempts,
		Delay:       c.Engine.Retry.Delay,
		Backoff:     backoff,
		Multiplier:  c.Engine.Retry.Multiplier,
		MaxDelay:    c.Engine.Retry.MaxDelay,
	}
}

// KVOptions converts the kv section.
func (c *Config) KVOptions() kv.Options {
	return kv.Options{
		Backend:   strings.ToLower(c.KV.Backend),
		Path:      c.KV.Path,
		RedisAddr: c.KV.RedisAddr,
		RedisDB:   c.KV.RedisDB,
		Prefix:    c.KV.Prefix,
	}
}

// LLMClientConfig converts the llm section.
func (c *Config) LLMClientConfig() nodes.LLMClientConfig {
	return nodes.LLMClientConfig{
		APIKey:  c.LLM.APIKey,
		BaseURL: c.LLM.BaseURL,
		Model:   c.LLM.Model,
	}
}

// WorkflowOptions converts the engine section.
func (c *Config) WorkflowOptions(logger *zap.Logger) flows.Options {
	return flows.Options{
		MaxSteps:    c.Engine.MaxSteps,
		Timeout:     c.Engine.Timeout,
		ClearAction: c.Engine.ClearAction,
		Logger:      logger,
	}
}

// Env opens the configured collaborators. The caller owns the returned
// KV store and must close it.
func (c *Config) Env(logger *zap.Logger) (nodes.Env, error) {
	store, err := kv.Open(c.KVOptions())
	if err != nil {
		return nodes.Env{}, err
	}
	env := nodes.Env{
		Model:          c.LLM.Model,
		KV:             store,
		Logger:         logger,
		MaxConcurrency: c.Engine.MaxConcurrency,
		Retry:          c.RetryPolicy(),
	}
	if client := nodes.NewOpenAIClient(c.LLMClientConfig()); client != nil {
		env.LLM = client
	}
	return env, nil
}
