package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds resolver configuration.
type Config struct {
	LogLevel string

	// DatabasePath is the SQLite file backing the lifecycle and evidence
	// stores. ":memory:" is valid for tests.
	DatabasePath string

	ChainRPCURL  string
	TimeAuthURL  string
	SandboxURL   string
	CodegenURL   string
	CodegenModel string
	CodegenKey   string

	TemplateRegistryPath string

	PollInterval    time.Duration
	ClockSyncEvery  time.Duration
	AnchorStaleness time.Duration

	// LivenessDelay is how long after the on-chain request timestamp the
	// resolve window opens. ResolutionWindow is how long it stays open before
	// the default outcome applies.
	LivenessDelay    time.Duration
	ResolutionWindow time.Duration

	MaxAttempts     int
	MaxWorkers      int
	ExecTimeout     time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration

	// CapabilityToken is the JWT presented to the authorization check before
	// each settlement submission.
	CapabilityToken  string
	CapabilitySecret string

	RedisAddr string

	S3Bucket   string
	S3Region   string
	S3Endpoint string

	OTLPEndpoint string
}

// Load loads configuration from environment variables with safe defaults.
func Load() *Config {
	return &Config{
		LogLevel:             envOr("LOG_LEVEL", "INFO"),
		DatabasePath:         envOr("RESOLVER_DB", "state/resolver.db"),
		ChainRPCURL:          envOr("CHAIN_RPC_URL", "http://localhost:8545"),
		TimeAuthURL:          envOr("TIME_AUTHORITY_URL", "http://localhost:8590/time"),
		SandboxURL:           envOr("SANDBOX_URL", "http://localhost:8080"),
		CodegenURL:           envOr("CODEGEN_URL", "http://127.0.0.1:11434/v1"),
		CodegenModel:         envOr("CODEGEN_MODEL", "gemma3:4b"),
		CodegenKey:           os.Getenv("CODEGEN_API_KEY"),
		TemplateRegistryPath: os.Getenv("TEMPLATE_REGISTRY"),
		PollInterval:         envDuration("POLL_INTERVAL", 30*time.Second),
		ClockSyncEvery:       envDuration("CLOCK_SYNC_INTERVAL", time.Minute),
		AnchorStaleness:      envDuration("CLOCK_STALENESS", 5*time.Minute),
		LivenessDelay:        envDuration("LIVENESS_DELAY", 2*time.Minute),
		ResolutionWindow:     envDuration("RESOLUTION_WINDOW", 24*time.Hour),
		MaxAttempts:          envInt("MAX_ATTEMPTS", 5),
		MaxWorkers:           envInt("MAX_WORKERS", 4),
		ExecTimeout:          envDuration("EXEC_TIMEOUT", 2*time.Minute),
		BackoffBase:          envDuration("BACKOFF_BASE", 15*time.Second),
		BackoffMax:           envDuration("BACKOFF_MAX", 5*time.Minute),
		ConfirmTimeout:       envDuration("CONFIRM_TIMEOUT", 3*time.Minute),
		ConfirmInterval:      envDuration("CONFIRM_INTERVAL", 5*time.Second),
		CapabilityToken:      os.Getenv("RESOLVER_CAPABILITY_TOKEN"),
		CapabilitySecret:     os.Getenv("RESOLVER_CAPABILITY_SECRET"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		S3Bucket:             os.Getenv("EVIDENCE_S3_BUCKET"),
		S3Region:             envOr("EVIDENCE_S3_REGION", "us-east-1"),
		S3Endpoint:           os.Getenv("EVIDENCE_S3_ENDPOINT"),
		OTLPEndpoint:         os.Getenv("OTLP_ENDPOINT"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
