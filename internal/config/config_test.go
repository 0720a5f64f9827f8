package config_test

import (
	"CustodyLedger/internal/config"
	"CustodyLedger/internal/ledger"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, config.AuditSinkNATS, cfg.AuditSink)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxPollInterval)
	assert.False(t, cfg.RedisEnabled())

	eng := cfg.EngineConfig()
	assert.Equal(t, 3, eng.MaxConflictRetries)
	assert.Equal(t, []ledger.Asset{ledger.AssetUSDT, ledger.AssetUSDC}, eng.BotFundingAssets)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CUSTODY_STORE_DRIVER", "Memory")
	t.Setenv("CUSTODY_AUDIT_SINK", "none")
	t.Setenv("CUSTODY_BOT_FUNDING_ASSETS", "usdc,DAI")
	t.Setenv("CUSTODY_OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("CUSTODY_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, []ledger.Asset{ledger.AssetUSDC, ledger.AssetDAI}, cfg.EngineConfig().BotFundingAssets)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CUSTODY_GRPC_ADDR=:7070\nCUSTODY_KAFKA_TOPIC=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CUSTODY_GRPC_ADDR") })
	// The process environment wins over the file.
	t.Setenv("CUSTODY_KAFKA_TOPIC", "from-env")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.GRPCAddr)
	assert.Equal(t, "from-env", cfg.KafkaTopic)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.StoreDriver = "sqlite" }},
		{"unknown sink", func(c *config.Config) { c.AuditSink = "s3" }},
		{"relay without postgres", func(c *config.Config) { c.StoreDriver = config.StoreDriverMemory }},
		{"kafka without brokers", func(c *config.Config) { c.AuditSink = config.AuditSinkKafka; c.KafkaBrokers = nil }},
		{"zero batch", func(c *config.Config) { c.OutboxBatchSize = 0 }},
		{"negative retries", func(c *config.Config) { c.ConflictRetries = -1 }},
		{"bad funding asset", func(c *config.Config) { c.BotFundingAssets = []string{"DOGE"} }},
		{"no funding assets", func(c *config.Config) { c.BotFundingAssets = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			cfg, err := config.Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chdir(abs))
	t.Setenv("PWD", abs)
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
