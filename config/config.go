// Package config loads server settings and builds the shared logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read here, e.g. CHIT_PORT.
const EnvPrefix = "CHIT"

// Config is the server configuration.
type Config struct {
	Port        int           `mapstructure:"port"`
	DB          string        `mapstructure:"db"`
	BatchLimit  int           `mapstructure:"batch_limit"`
	LogLevel    string        `mapstructure:"log_level"`
	RedisAddr   string        `mapstructure:"redis_addr"` // empty disables distributed locking
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		DB:          "chitledger.db",
		BatchLimit:  500,
		LogLevel:    "info",
		LockTTL:     30 * time.Second,
		CORSOrigins: []string{"*"},
	}
}

// Load reads .env (if present), then an optional YAML file, then CHIT_*
// environment variables. Later sources win. path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("port", def.Port)
	v.SetDefault("db", def.DB)
	v.SetDefault("batch_limit", def.BatchLimit)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("lock_ttl", def.LockTTL)
	v.SetDefault("cors_origins", def.CORSOrigins)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.DB == "":
		return errors.New("db path is required")
	case c.BatchLimit <= 0:
		return fmt.Errorf("batch_limit must be positive, got %d", c.BatchLimit)
	case c.LockTTL <= 0:
		return fmt.Errorf("lock_ttl must be positive, got %s", c.LockTTL)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
