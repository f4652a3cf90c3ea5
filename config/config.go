// Package config provides configuration for the iteration engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Storage layout
	StorageRoot string
	WebRoot     string

	// Model collaborator
	ModelBaseURL string
	APIKey       string
	CodeModel    string
	VisionModel  string
	AppName      string
	ModelTimeout time.Duration

	// Browser collaborator
	Headless       bool
	ViewportWidth  int
	ViewportHeight int

	// Loop pacing
	IterationBudget int
	StepDelay       time.Duration

	// Retry policy for collaborator calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Subscriber queue bound
	QueueSize int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		StorageRoot:      getEnv("STORAGE_ROOT", "storage"),
		WebRoot:          getEnv("WEB_ROOT", "web"),
		ModelBaseURL:     getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		APIKey:           getEnv("VIBES_API_KEY", ""),
		CodeModel:        getEnv("VIBES_CODE_MODEL", "openai/gpt-4o-mini"),
		VisionModel:      getEnv("VIBES_VISION_MODEL", "openai/gpt-4o-mini"),
		AppName:          getEnv("VIBES_APP_NAME", "vibe-coding-iterator"),
		ModelTimeout:     time.Duration(getEnvInt("MODEL_TIMEOUT_MS", 120000)) * time.Millisecond,
		Headless:         getEnvBool("HEADLESS", true),
		ViewportWidth:    getEnvInt("VIEWPORT_WIDTH", 1280),
		ViewportHeight:   getEnvInt("VIEWPORT_HEIGHT", 720),
		IterationBudget:  getEnvInt("VIBES_MAX_ITERATIONS", 0),
		StepDelay:        time.Duration(getEnvInt("STEP_DELAY_MS", 2000)) * time.Millisecond,
		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		QueueSize:        getEnvInt("SUBSCRIBER_QUEUE_SIZE", 256),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
