// Package config loads server configuration from the environment and an
// optional config file.
//
// Environment variables use the HOLDPAY_ prefix with dots replaced by
// underscores: hold.default_percent is HOLDPAY_HOLD_DEFAULT_PERCENT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const EnvDevelopment = "development"

// Config holds application configuration (env + Viper).
type Config struct {
	Env         string
	Port        int
	DBPath      string
	JWTSecret   string
	RedisURL    string // empty means the in-process locker
	LockWait    time.Duration
	LockTTL     time.Duration
	LogLevel    string
	CORSOrigins []string

	DefaultHoldPercent decimal.Decimal
	MaturityMonths     int
}

func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "holdpay.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("lock_wait", "5s")
	v.SetDefault("lock_ttl", "30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("hold.default_percent", "10")
	v.SetDefault("hold.maturity_months", 3)
}

// Load reads configuration. path may name a YAML/JSON/TOML/.env file; an
// empty path reads the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("HOLDPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holdPercent, err := decimal.NewFromString(v.GetString("hold.default_percent"))
	if err != nil {
		return nil, fmt.Errorf("invalid hold.default_percent: %w", err)
	}

	cfg := &Config{
		Env:                v.GetString("env"),
		Port:               v.GetInt("port"),
		DBPath:             v.GetString("db_path"),
		JWTSecret:          v.GetString("jwt_secret"),
		RedisURL:           v.GetString("redis_url"),
		LockWait:           v.GetDuration("lock_wait"),
		LockTTL:            v.GetDuration("lock_ttl"),
		LogLevel:           v.GetString("log_level"),
		CORSOrigins:        origins(v.GetStringSlice("cors_origins")),
		DefaultHoldPercent: holdPercent,
		MaturityMonths:     v.GetInt("hold.maturity_months"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("jwt_secret is required outside development"))
	}
	if c.DefaultHoldPercent.IsNegative() || c.DefaultHoldPercent.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("hold.default_percent %s outside 0-100", c.DefaultHoldPercent))
	}
	if c.MaturityMonths <= 0 {
		errs = append(errs, fmt.Errorf("hold.maturity_months must be positive, got %d", c.MaturityMonths))
	}
	if c.LockWait <= 0 {
		errs = append(errs, errors.New("lock_wait must be positive"))
	}
	return errors.Join(errs...)
}

// origins accepts both a list and a single comma-separated env value.
func origins(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
