package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	NatsURL     string
	DatabaseURL string
	LogLevel    string

	ScriptWeight     float64
	ServiceWeight    float64
	ResolutionWeight float64
	PassThreshold    int
	ReviewThreshold  int

	BundleTTL           time.Duration
	BundleSweepInterval time.Duration
	ResponseWindow      int
	PersistMaxAttempts  int

	SlackBotToken     string
	SlackAlertChannel string
}

// Load reads configuration from the environment, honoring an optional
// .env file in the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("AUDIT_PORT", 8710),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		ScriptWeight:     envFloat("SCORE_WEIGHT_SCRIPT", 0.30),
		ServiceWeight:    envFloat("SCORE_WEIGHT_SERVICE", 0.40),
		ResolutionWeight: envFloat("SCORE_WEIGHT_RESOLUTION", 0.30),
		PassThreshold:    envInt("SCORE_PASS_THRESHOLD", 70),
		ReviewThreshold:  envInt("SCORE_REVIEW_THRESHOLD", 50),

		BundleTTL:           time.Duration(envInt("BUNDLE_TTL_MS", 1800000)) * time.Millisecond,
		BundleSweepInterval: time.Duration(envInt("BUNDLE_SWEEP_INTERVAL_MS", 60000)) * time.Millisecond,
		ResponseWindow:      envInt("RESPONSE_WINDOW_SEGMENTS", 3),
		PersistMaxAttempts:  envInt("PERSIST_MAX_ATTEMPTS", 3),

		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// Validate rejects configurations that would produce silently wrong audits.
// Called once at startup; any error here is fatal.
func (c Config) Validate() error {
	sum := c.ScriptWeight + c.ServiceWeight + c.ResolutionWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	if c.ScriptWeight < 0 || c.ServiceWeight < 0 || c.ResolutionWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if c.PassThreshold < 0 || c.PassThreshold > 100 {
		return fmt.Errorf("pass threshold must be in [0,100], got %d", c.PassThreshold)
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 100 {
		return fmt.Errorf("review threshold must be in [0,100], got %d", c.ReviewThreshold)
	}
	if c.ReviewThreshold > c.PassThreshold {
		return fmt.Errorf("review threshold (%d) must not exceed pass threshold (%d)", c.ReviewThreshold, c.PassThreshold)
	}
	if c.BundleTTL <= 0 {
		return fmt.Errorf("bundle TTL must be positive, got %s", c.BundleTTL)
	}
	if c.BundleSweepInterval <= 0 {
		return fmt.Errorf("bundle sweep interval must be positive, got %s", c.BundleSweepInterval)
	}
	if c.ResponseWindow < 1 {
		return fmt.Errorf("response window must be at least 1 segment, got %d", c.ResponseWindow)
	}
	if c.PersistMaxAttempts < 1 {
		return fmt.Errorf("persist max attempts must be at least 1, got %d", c.PersistMaxAttempts)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
