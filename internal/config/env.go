package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays environment variables. Unset variables keep the current value.
func (c *Config) applyEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.Store, strings.ToLower(os.Getenv("STORE")))
	setString(&c.DatabaseURL, os.Getenv("DB_URL"))
	setString(&c.RedisAddr, os.Getenv("REDIS_URL"))
	setString(&c.RedisPassword, os.Getenv("REDIS_PASSWORD"))
	setString(&c.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&c.OTPIssuer, os.Getenv("OTP_ISSUER"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("LOG_FORMAT"))

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.RedisDB = n
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}
	return nil
}
