package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "SENTINEL_CONFIG"

// fileConfig mirrors Config for YAML unmarshalling. Zero values leave the
// current setting untouched.
type fileConfig struct {
	Port            string   `yaml:"port"`
	Store           string   `yaml:"store"`
	DatabaseURL     string   `yaml:"database_url"`
	RedisAddr       string   `yaml:"redis_addr"`
	RedisPassword   string   `yaml:"redis_password"`
	RedisDB         *int     `yaml:"redis_db"`
	JWTSecret       string   `yaml:"jwt_secret"`
	OTPIssuer       string   `yaml:"otp_issuer"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

func configFileFromEnv() string {
	return os.Getenv(configFileEnv)
}

// applyFile overlays values from a YAML file. An empty path loads nothing.
func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.Store, fc.Store)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.OTPIssuer, fc.OTPIssuer)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}
	if fc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
