package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.WorkerPool.Workers)
	assert.Equal(t, 3, cfg.Quotas.ConcurrentLimit)
	assert.Equal(t, 300, cfg.Health.TickSeconds)
	assert.Empty(t, cfg.Validate(), "defaults must validate clean")
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loong.toml")
	content := `
environment = "production"

[server]
port = 9090

[auth]
jwt_secret = "super-secret-value-for-tests"

[quotas]
daily_quota = 100
concurrent_limit = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Quotas.DailyQuota)
	assert.Equal(t, 5, cfg.Quotas.ConcurrentLimit)
	// Defaults survive for untouched sections
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_MissingFileSkipped(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/loong.toml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LOONG_PORT", "7070")
	t.Setenv("LOONG_LOG_LEVEL", "debug")
	t.Setenv("LOONG_TUSHARE_TOKEN", "env-token")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	var tushareToken string
	for _, p := range cfg.Providers {
		if p.Name == "tushare" {
			tushareToken = p.Token
		}
	}
	assert.Equal(t, "env-token", tushareToken)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Providers = []ProviderConfig{
		{Name: "a", Enabled: false},
		{Name: "a", Enabled: false},
	}
	cfg.SyncJobs = []SyncJobConfig{
		{Name: "bad", DataClass: "nope", Schedule: "not-cron", ChunkSize: 0},
	}
	cfg.WorkerPool.Workers = 0
	cfg.Quotas.DailyQuota = 0

	problems := cfg.Validate()

	assert.GreaterOrEqual(t, len(problems), 6)
	assert.Contains(t, problems, `providers: duplicate name "a"`)
	assert.Contains(t, problems, "providers: at least one provider must be enabled")
	assert.Contains(t, problems, "worker_pool: workers must be positive")
}

func TestValidate_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Environment = "production"

	problems := cfg.Validate()
	assert.Contains(t, problems, "auth: jwt_secret must be set in production")

	cfg.Auth.JWTSecret = "a-real-secret"
	assert.Empty(t, cfg.Validate())
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "ab****yz", MaskSecret("abcdefghxyz"))
}

func TestSummary_MasksCredentials(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Storage.Password = "topsecretpass"
	cfg.LLM.APIKey = "llm-api-key-value"
	cfg.Providers[0].Token = "tushare-token-value"

	summary := cfg.Summary()

	storage := summary["storage"].(map[string]any)
	assert.NotContains(t, storage["password"], "topsecretpass")

	llm := summary["llm"].(map[string]any)
	assert.NotContains(t, llm["api_key"], "llm-api-key-value")

	providers := summary["providers"].([]map[string]any)
	assert.NotContains(t, providers[0]["token"], "tushare-token-value")
}
