package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// App holds runtime configuration for the scheduling and dispatch
// engine, derived from environment variables.
type App struct {
	DatabaseURL string
	Environment string
	LogLevel    string

	// SpinnerYieldMaxMs upper-bounds the spinner's per-tick sleep.
	SpinnerYieldMaxMs int
	// MaxTriggersPerTick bounds dispatches submitted per tick.
	MaxTriggersPerTick int
	// DangerousFastForward, set at startup, treats every recovered
	// trigger as if it never ran (operator escape hatch after an
	// outage).
	DangerousFastForward bool
	// AdminAPIKeys bypasses project-scoped auth in the external gateway;
	// the core only parses it. An authenticated project_id is assumed
	// present on every call.
	AdminAPIKeys []string
	// SkipPublicIPValidation disables the webhook URL validator's
	// globally-routable-IP check, for local development and tests.
	SkipPublicIPValidation bool
	// CheckpointInterval is how often the controller flushes dirty
	// active-trigger state to the Trigger Store.
	CheckpointInterval time.Duration
	// ShutdownGrace bounds how long shutdown waits for the checkpoint
	// loop to stop before the final checkpoint. In-flight dispatches are
	// neither awaited nor aborted when it runs out.
	ShutdownGrace time.Duration
}

// FromEnv loads the application configuration from environment variables.
func FromEnv() App {
	return App{
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		Environment:            getEnv("ENVIRONMENT", "production"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		SpinnerYieldMaxMs:      getEnvInt("SPINNER_YIELD_MAX_MS", 500),
		MaxTriggersPerTick:     getEnvInt("MAX_TRIGGERS_PER_TICK", 1000),
		DangerousFastForward:   getEnvBool("DANGEROUS_FAST_FORWARD", false),
		AdminAPIKeys:           getEnvList("ADMIN_API_KEYS"),
		SkipPublicIPValidation: getEnvBool("CRONBACK__SKIP_PUBLIC_IP_VALIDATION", false),
		CheckpointInterval:     getEnvDuration("CHECKPOINT_INTERVAL_MS", 5*time.Second),
		ShutdownGrace:          getEnvDuration("SHUTDOWN_GRACE_SECONDS", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration reads key as an integer count of milliseconds (for
// *_MS keys) unless the suffix is _SECONDS, in which case it is read as
// whole seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	if strings.HasSuffix(key, "_SECONDS") {
		return time.Duration(v) * time.Second
	}
	return time.Duration(v) * time.Millisecond
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
