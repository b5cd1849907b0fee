// Package config loads operator runtime configuration from the environment.
// Follows infrastructure/config/loader.go's EnvOrSecret helper shape,
// simplified to plain environment lookups: there is no
// Marble/TEE secret store in this runtime, and CLI flag parsing / dotenv
// loading are explicitly out of scope — an operator's
// process supervisor (systemd, docker, k8s) is expected to set the
// environment directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	werrors "github.com/wavs-network/operator/internal/errors"
)

// ChannelSizes configures the bounded command channels between subsystems.
type ChannelSizes struct {
	Trigger    int
	Engine     int
	Submission int
	Aggregator int
}

// ChainEntry describes one chain the operator dials at startup. Key is a
// "namespace:id" string (e.g. "evm:1", "cosmos:osmosis-1") parsed with
// types.ParseChainKey by the caller; config itself stays free of the types
// import so chain parsing errors surface as operator startup errors, not
// config load errors.
type ChainEntry struct {
	Key         string `json:"key"`
	RPCURL      string `json:"rpc_url"`
	WSURL       string `json:"ws_url,omitempty"`
	ChainID     uint64 `json:"chain_id,omitempty"`
	StartHeight uint64 `json:"start_height,omitempty"`
}

// Config is the operator's startup configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	StoragePath string // bbolt file path

	// Engine
	DefaultFuelLimit        uint64
	DefaultTimeLimitSeconds uint32
	ModuleCacheSize         int
	RunnerMode              string // "single" or "multi"
	RunnerPoolSize          int
	EngineScratchDir        string // WASI preopened root for components granted Filesystem

	// Submission
	OperatorMnemonic string

	// Aggregator
	GraceShutdownSeconds int

	Channels ChannelSizes

	MetricsAddr string

	Chains []ChainEntry
}

// Load reads Config from the process environment, applying defaults where
// unset.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:             EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            EnvOrDefault("LOG_FORMAT", "json"),
		StoragePath:          EnvOrDefault("WAVS_STORAGE_PATH", "./wavs.db"),
		ModuleCacheSize:      IntEnvOrDefault("WAVS_MODULE_CACHE_SIZE", 64),
		RunnerMode:           EnvOrDefault("WAVS_RUNNER_MODE", "multi"),
		RunnerPoolSize:       IntEnvOrDefault("WAVS_RUNNER_POOL_SIZE", 4),
		EngineScratchDir:     EnvOrDefault("WAVS_ENGINE_SCRATCH_DIR", "./wavs-scratch"),
		OperatorMnemonic:     os.Getenv("WAVS_OPERATOR_MNEMONIC"),
		GraceShutdownSeconds: IntEnvOrDefault("WAVS_SHUTDOWN_GRACE_SECONDS", 10),
		MetricsAddr:          EnvOrDefault("WAVS_METRICS_ADDR", ":9090"),
		Channels: ChannelSizes{
			Trigger:    IntEnvOrDefault("WAVS_CHANNEL_TRIGGER", 100),
			Engine:     IntEnvOrDefault("WAVS_CHANNEL_ENGINE", 20),
			Submission: IntEnvOrDefault("WAVS_CHANNEL_SUBMISSION", 20),
			Aggregator: IntEnvOrDefault("WAVS_CHANNEL_AGGREGATOR", 20),
		},
	}

	fuel, err := Uint64EnvOrDefault("WAVS_DEFAULT_FUEL_LIMIT", 10_000_000)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindConfig, "WAVS_DEFAULT_FUEL_LIMIT", err)
	}
	cfg.DefaultFuelLimit = fuel

	timeLimit, err := IntEnvOrDefaultErr("WAVS_DEFAULT_TIME_LIMIT_SECONDS", 5)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindConfig, "WAVS_DEFAULT_TIME_LIMIT_SECONDS", err)
	}
	cfg.DefaultTimeLimitSeconds = uint32(timeLimit)

	if cfg.RunnerMode != "single" && cfg.RunnerMode != "multi" {
		return nil, werrors.New(werrors.KindConfig, fmt.Sprintf("WAVS_RUNNER_MODE must be single or multi, got %q", cfg.RunnerMode))
	}
	if cfg.OperatorMnemonic == "" {
		return nil, werrors.New(werrors.KindConfig, "WAVS_OPERATOR_MNEMONIC is required")
	}

	if raw := strings.TrimSpace(os.Getenv("WAVS_CHAINS")); raw != "" {
		var chains []ChainEntry
		if err := json.Unmarshal([]byte(raw), &chains); err != nil {
			return nil, werrors.Wrap(werrors.KindConfig, "WAVS_CHAINS", err)
		}
		cfg.Chains = chains
	}

	return cfg, nil
}

// EnvOrDefault returns the environment variable's value, or def if unset/empty.
func EnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// RequireEnv returns the environment variable's value, erroring if unset.
func RequireEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", werrors.New(werrors.KindConfig, fmt.Sprintf("%s is required", key))
	}
	return v, nil
}

// IntEnvOrDefault parses an int environment variable, falling back to def on
// absence or parse failure.
func IntEnvOrDefault(key string, def int) int {
	v, err := IntEnvOrDefaultErr(key, def)
	if err != nil {
		return def
	}
	return v
}

// IntEnvOrDefaultErr is like IntEnvOrDefault but surfaces parse errors.
func IntEnvOrDefaultErr(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// Uint64EnvOrDefault parses a uint64 environment variable.
func Uint64EnvOrDefault(key string, def uint64) (uint64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// BoolEnvOrDefault parses a bool environment variable.
func BoolEnvOrDefault(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// DurationEnvOrDefault parses a time.Duration environment variable.
func DurationEnvOrDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

// CSVEnvOrDefault parses a comma-separated list environment variable.
func CSVEnvOrDefault(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
