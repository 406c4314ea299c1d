package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into dir for the duration of the test, so Load sees no stray .env.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file setting port and batch limit, and CHIT_PORT in the env
	// WHEN: Config is loaded
	// THEN: The env wins for port, the file wins for batch limit

	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "chitledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nbatch_limit: 100\nlock_ttl: 10s\nredis_addr: localhost:6379\n"), 0o600))
	t.Setenv("CHIT_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 100, cfg.BatchLimit)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CHIT_DB=from-dotenv.db\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CHIT_DB") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.DB)
}

func TestLoad_MissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"db", func(c *Config) { c.DB = "" }},
		{"batch limit", func(c *Config) { c.BatchLimit = -1 }},
		{"lock ttl", func(c *Config) { c.LockTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.edit(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLogError_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", &buf)

	LogError(logger, "ledger", "AllocateBulkPayment", "store failure", map[string]string{"client_id": "c-1"}, errors.New("disk full"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "disk full", entry["msg"])
	assert.Equal(t, "ledger", entry["module"])
	assert.Equal(t, "AllocateBulkPayment", entry["funcName"])
}

func TestNewLogger_UnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("chatty", &buf)
	assert.Equal(t, "info", logger.GetLevel().String())
}
