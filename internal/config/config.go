// Package config loads trainer settings from an optional config file and
// the environment, with sane defaults for local runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/freeeve/endgametrainer/internal/eval"
)

// Config is the full runtime configuration.
type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`

	OracleURL     string        `mapstructure:"oracle_url"`
	OracleTimeout time.Duration `mapstructure:"oracle_timeout"`

	CacheCapacity int           `mapstructure:"cache_capacity"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`

	ReplyDelay     time.Duration `mapstructure:"reply_delay"`
	SessionMaxIdle time.Duration `mapstructure:"session_max_idle"`

	DrillsDir string `mapstructure:"drills_dir"`

	Thresholds eval.Thresholds `mapstructure:"thresholds"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8017")
	v.SetDefault("log_level", "info")
	v.SetDefault("oracle_url", "https://tablebase.lichess.ovh/standard")
	v.SetDefault("oracle_timeout", 7*time.Second)
	v.SetDefault("cache_capacity", 4096)
	v.SetDefault("cache_ttl", time.Duration(0))
	v.SetDefault("reply_delay", 500*time.Millisecond)
	v.SetDefault("session_max_idle", 2*time.Hour)
	v.SetDefault("drills_dir", "./data/drills")

	th := eval.DefaultThresholds()
	v.SetDefault("thresholds.optimal", th.Optimal)
	v.SetDefault("thresholds.safe", th.Safe)
	v.SetDefault("thresholds.detour", th.Detour)
	v.SetDefault("thresholds.robust", th.Robust)
	v.SetDefault("thresholds.precise", th.Precise)
	v.SetDefault("thresholds.hairline", th.Hairline)
}

// Setup reads cfgPath (YAML, optional: a missing file is not an error)
// and overlays TRAINER_* environment variables on top.
func Setup(cfgPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("trainer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err == nil {
			v.SetConfigFile(cfgPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OracleURL == "" {
		return fmt.Errorf("oracle_url must be set")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be positive, got %s", c.OracleTimeout)
	}
	if c.ReplyDelay < 0 {
		return fmt.Errorf("reply_delay must not be negative, got %s", c.ReplyDelay)
	}
	return nil
}
