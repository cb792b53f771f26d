// Package config loads the runtime configuration from the environment,
// with a .env file as a convenience overlay for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Neo4j    Neo4jConfig
	LLM      LLMConfig
	Target   TargetConfig
	Executor ExecutorConfig
	Debug    DebugConfig
}

// Neo4jConfig is the graph store connection.
type Neo4jConfig struct {
	URI          string
	Username     string
	Password     string
	Database     string
	EmbeddingDim int
	// SimilarityThreshold is the vector search floor for fingerprint
	// matching.
	SimilarityThreshold float64
}

// LLMConfig drives the genkit client. APIKey may be empty; warm-start runs
// never call a model.
type LLMConfig struct {
	APIKey              string
	ModelSmart          string
	ModelFast           string
	MaxCriticIterations int
	MaxTokenBudget      int
}

// TargetConfig selects what to attack and how traffic is acquired.
type TargetConfig struct {
	URL         string
	Profile     string
	CaptureMode string
	TrafficFile string
}

// ExecutorConfig carries the step execution tunables.
type ExecutorConfig struct {
	RequestTimeout time.Duration
	ShellTimeout   time.Duration
	RetryBackoff   time.Duration
	ApprovalPolicy string
}

// DebugConfig controls the debug dump directory and the monitor address.
type DebugConfig struct {
	Logging     bool
	LogDir      string
	MonitorAddr string
}

// Load reads the environment. A missing .env file is fine; explicit
// environment variables always win over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Neo4j: Neo4jConfig{
			URI:                 getEnvOrDefault("NEO4J_URI", "bolt://localhost:7687"),
			Username:            getEnvOrDefault("NEO4J_USERNAME", "neo4j"),
			Password:            os.Getenv("NEO4J_PASSWORD"),
			Database:            getEnvOrDefault("NEO4J_DATABASE", "neo4j"),
			EmbeddingDim:        intEnv("EMBEDDING_DIMENSIONS", 384),
			SimilarityThreshold: floatEnv("SIMILARITY_THRESHOLD", 0.85),
		},
		LLM: LLMConfig{
			APIKey:              os.Getenv("API_KEY"),
			ModelSmart:          getEnvOrDefault("LLM_MODEL_SMART", "googleai/gemini-2.5-pro"),
			ModelFast:           getEnvOrDefault("LLM_MODEL_FAST", "googleai/gemini-2.5-flash"),
			MaxCriticIterations: intEnv("MAX_CRITIC_ITERATIONS", 3),
			MaxTokenBudget:      intEnv("MAX_TOKEN_BUDGET", 50000),
		},
		Target: TargetConfig{
			URL:         getEnvOrDefault("TARGET_URL", "http://localhost:3000"),
			Profile:     getEnvOrDefault("TARGET_PROFILE", "juice_shop"),
			CaptureMode: getEnvOrDefault("CAPTURE_MODE", "file"),
			TrafficFile: getEnvOrDefault("TRAFFIC_FILE", "traffic.mitm"),
		},
		Executor: ExecutorConfig{
			RequestTimeout: secondsEnv("REQUEST_TIMEOUT_SECONDS", 15),
			ShellTimeout:   secondsEnv("SHELL_TIMEOUT_SECONDS", 30),
			RetryBackoff:   secondsEnv("RETRY_BACKOFF_SECONDS", 2),
			ApprovalPolicy: getEnvOrDefault("APPROVAL_POLICY", "approve_all"),
		},
		Debug: DebugConfig{
			Logging:     boolEnv("DEBUG_LOGGING", false),
			LogDir:      getEnvOrDefault("DEBUG_LOG_DIR", "debug_logs"),
			MonitorAddr: getEnvOrDefault("MONITOR_ADDR", ":8899"),
		},
	}

	if cfg.Target.CaptureMode != "file" && cfg.Target.CaptureMode != "live" {
		return nil, fmt.Errorf("CAPTURE_MODE must be file or live, got %q", cfg.Target.CaptureMode)
	}
	if cfg.Executor.ApprovalPolicy != "approve_all" && cfg.Executor.ApprovalPolicy != "deny_destructive" {
		return nil, fmt.Errorf("APPROVAL_POLICY must be approve_all or deny_destructive, got %q", cfg.Executor.ApprovalPolicy)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func floatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func boolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func secondsEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(intEnv(key, defaultSeconds)) * time.Second
}
