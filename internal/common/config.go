// Package common provides shared utilities for Loong
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration for Loong
type Config struct {
	Environment string              `toml:"environment"`
	Server      ServerConfig        `toml:"server"`
	Storage     StorageConfig       `toml:"storage"`
	Cache       CacheConfig         `toml:"cache"`
	Logging     LoggingConfig       `toml:"logging"`
	Auth        AuthConfig          `toml:"auth"`
	Providers   []ProviderConfig    `toml:"providers"`
	SyncJobs    []SyncJobConfig     `toml:"sync_jobs"`
	WorkerPool  WorkerPoolConfig    `toml:"worker_pool"`
	Quotas      QuotaConfig         `toml:"quotas"`
	Health      HealthMonitorConfig `toml:"health_monitor"`
	Consistency ConsistencyConfig   `toml:"consistency"`
	LLM         LLMConfig           `toml:"llm"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// CacheConfig holds the two-tier cache configuration. RedisAddr is optional;
// when empty the L2 tier is disabled and L2 policies fall back to L1.
type CacheConfig struct {
	RedisAddr     string                       `toml:"redis_addr"`
	RedisPassword string                       `toml:"redis_password"`
	RedisDB       int                          `toml:"redis_db"`
	Policies      map[string]CachePolicyConfig `toml:"policies"`
}

// CachePolicyConfig is the per-prefix cache policy.
type CachePolicyConfig struct {
	Tier       string `toml:"tier"` // "l1" or "l2"
	TTLSeconds int    `toml:"ttl_seconds"`
}

// ProviderConfig declares one upstream data provider.
type ProviderConfig struct {
	Name      string `toml:"name"`
	Type      string `toml:"type"` // cn-equity, hk-equity, us-equity, news, financial
	Enabled   bool   `toml:"enabled"`
	Priority  int    `toml:"priority"` // lower = higher priority
	Token     string `toml:"token"`
	BaseURL   string `toml:"base_url"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *ProviderConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// SyncJobConfig declares one scheduled sync job.
type SyncJobConfig struct {
	Name      string `toml:"name"`
	DataClass string `toml:"data_class"` // basic, historical, financial, quotes
	Schedule  string `toml:"schedule"`   // cron expression, 5 fields
	ChunkSize int    `toml:"chunk_size"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the job timeout duration
func (c *SyncJobConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// WorkerPoolConfig holds the analysis worker pool configuration.
type WorkerPoolConfig struct {
	Workers           int `toml:"workers"`
	DefaultMaxRetries int `toml:"default_max_retries"`
}

// QuotaConfig holds per-user default quotas.
type QuotaConfig struct {
	DailyQuota      int `toml:"daily_quota"`
	ConcurrentLimit int `toml:"concurrent_limit"`
}

// HealthMonitorConfig holds provider health monitor tuning.
type HealthMonitorConfig struct {
	TickSeconds                  int `toml:"tick_seconds"`
	FailureThreshold             int `toml:"failure_threshold"`
	ResponseTimeThresholdSeconds int `toml:"response_time_threshold_seconds"`
}

// ConsistencyConfig holds per-field tolerances and weights for the
// cross-source consistency checker. Empty maps fall back to built-in
// defaults.
type ConsistencyConfig struct {
	Tolerances map[string]float64 `toml:"tolerances"`
	Weights    map[string]float64 `toml:"weights"`
}

// LLMConfig holds the analysis model configuration.
type LLMConfig struct {
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	QuickModel string `toml:"quick_model"`
}

// AuthConfig holds JWT authentication configuration.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	TokenExpiry string `toml:"token_expiry"` // duration string, default "24h"
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000",
			Namespace: "loong",
			Database:  "loong",
			Username:  "root",
			Password:  "root",
		},
		Cache: CacheConfig{
			Policies: map[string]CachePolicyConfig{
				"stock_info":      {Tier: "l1", TTLSeconds: 3600},
				"stock_quotes":    {Tier: "l1", TTLSeconds: 60},
				"analysis_result": {Tier: "l2", TTLSeconds: 7200},
				"market_data":     {Tier: "l1", TTLSeconds: 300},
			},
		},
		Providers: []ProviderConfig{
			{Name: "tushare", Type: "cn-equity", Enabled: true, Priority: 1, RateLimit: 5, Timeout: "60s"},
			{Name: "eastmoney", Type: "cn-equity", Enabled: true, Priority: 2, RateLimit: 10, Timeout: "60s"},
			{Name: "sina", Type: "cn-equity", Enabled: true, Priority: 3, RateLimit: 2, Timeout: "60s"},
			{Name: "yahoo", Type: "us-equity", Enabled: true, Priority: 4, RateLimit: 5, Timeout: "60s"},
		},
		SyncJobs: []SyncJobConfig{
			{Name: "basic_daily", DataClass: "basic", Schedule: "30 15 * * 1-5", ChunkSize: 500, Timeout: "2h"},
			{Name: "historical_daily", DataClass: "historical", Schedule: "0 16 * * 1-5", ChunkSize: 50, Timeout: "4h"},
			{Name: "financial_weekly", DataClass: "financial", Schedule: "0 2 * * 6", ChunkSize: 50, Timeout: "6h"},
			{Name: "quotes_intraday", DataClass: "quotes", Schedule: "*/6 * * * 1-5", ChunkSize: 500, Timeout: "5m"},
		},
		WorkerPool: WorkerPoolConfig{
			Workers:           4,
			DefaultMaxRetries: 3,
		},
		Quotas: QuotaConfig{
			DailyQuota:      50,
			ConcurrentLimit: 3,
		},
		Health: HealthMonitorConfig{
			TickSeconds:                  300,
			FailureThreshold:             3,
			ResponseTimeThresholdSeconds: 30,
		},
		LLM: LLMConfig{
			Model:      "gemini-2.0-flash",
			QuickModel: "gemini-2.0-flash",
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LOONG_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("LOONG_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("LOONG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("LOONG_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("LOONG_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if v := os.Getenv("LOONG_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("LOONG_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("LOONG_REDIS_ADDR"); v != "" {
		config.Cache.RedisAddr = v
	}

	if v := os.Getenv("LOONG_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	if v := os.Getenv("LOONG_LLM_API_KEY"); v != "" {
		config.LLM.APIKey = v
	}

	// Per-provider token overrides: LOONG_TUSHARE_TOKEN etc.
	for i := range config.Providers {
		envName := "LOONG_" + strings.ToUpper(config.Providers[i].Name) + "_TOKEN"
		if v := os.Getenv(envName); v != "" {
			config.Providers[i].Token = v
		}
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Validate checks the configuration and returns every violation found.
// Callers treat a non-empty result as fatal at startup.
func (c *Config) Validate() []string {
	var problems []string

	enabled := 0
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			problems = append(problems, "providers: entry with empty name")
			continue
		}
		if seen[p.Name] {
			problems = append(problems, fmt.Sprintf("providers: duplicate name %q", p.Name))
		}
		seen[p.Name] = true
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		problems = append(problems, "providers: at least one provider must be enabled")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, j := range c.SyncJobs {
		if j.Name == "" {
			problems = append(problems, "sync_jobs: entry with empty name")
		}
		switch j.DataClass {
		case "basic", "historical", "financial", "quotes":
		default:
			problems = append(problems, fmt.Sprintf("sync_jobs %q: unknown data_class %q", j.Name, j.DataClass))
		}
		if _, err := parser.Parse(j.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("sync_jobs %q: invalid schedule %q: %v", j.Name, j.Schedule, err))
		}
		if j.ChunkSize <= 0 {
			problems = append(problems, fmt.Sprintf("sync_jobs %q: chunk_size must be positive", j.Name))
		}
	}

	if c.WorkerPool.Workers <= 0 {
		problems = append(problems, "worker_pool: workers must be positive")
	}
	if c.Quotas.DailyQuota <= 0 {
		problems = append(problems, "quotas: daily_quota must be positive")
	}
	if c.Quotas.ConcurrentLimit <= 0 {
		problems = append(problems, "quotas: concurrent_limit must be positive")
	}

	if c.Storage.Address == "" {
		problems = append(problems, "storage: address is required")
	}

	if c.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-jwt-secret-change-in-production") {
		problems = append(problems, "auth: jwt_secret must be set in production")
	}

	return problems
}

// MaskSecret masks a secret for display, keeping the first and last two
// characters when long enough.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// Summary returns a map safe to expose on the admin config endpoint.
// All credentials are masked.
func (c *Config) Summary() map[string]any {
	providers := make([]map[string]any, 0, len(c.Providers))
	for _, p := range c.Providers {
		providers = append(providers, map[string]any{
			"name":     p.Name,
			"type":     p.Type,
			"enabled":  p.Enabled,
			"priority": p.Priority,
			"token":    MaskSecret(p.Token),
		})
	}

	jobs := make([]map[string]any, 0, len(c.SyncJobs))
	for _, j := range c.SyncJobs {
		jobs = append(jobs, map[string]any{
			"name":       j.Name,
			"data_class": j.DataClass,
			"schedule":   j.Schedule,
			"chunk_size": j.ChunkSize,
		})
	}

	return map[string]any{
		"environment": c.Environment,
		"server":      map[string]any{"host": c.Server.Host, "port": c.Server.Port},
		"storage": map[string]any{
			"address":   c.Storage.Address,
			"namespace": c.Storage.Namespace,
			"database":  c.Storage.Database,
			"username":  c.Storage.Username,
			"password":  MaskSecret(c.Storage.Password),
		},
		"cache": map[string]any{
			"redis_addr": c.Cache.RedisAddr,
			"policies":   c.Cache.Policies,
		},
		"providers":   providers,
		"sync_jobs":   jobs,
		"worker_pool": c.WorkerPool,
		"quotas":      c.Quotas,
		"llm": map[string]any{
			"model":       c.LLM.Model,
			"quick_model": c.LLM.QuickModel,
			"api_key":     MaskSecret(c.LLM.APIKey),
		},
	}
}

// ResolveAPIKey resolves an API key from environment variables with a
// config fallback.
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"tushare_token": {"TUSHARE_TOKEN", "LOONG_TUSHARE_TOKEN"},
		"llm_api_key":   {"GEMINI_API_KEY", "LOONG_LLM_API_KEY", "GOOGLE_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}
