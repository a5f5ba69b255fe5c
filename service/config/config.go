package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	// DefaultProgramID is the deployed trade program.
	DefaultProgramID = "497cyv12aNpr31KHVJYbRJot1QhpEiVohb2h4zkb4NZh"
	// DefaultLendingProgramID is the Solend lending program.
	DefaultLendingProgramID = "ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx"
	// DefaultFlashloanSeed derives the loan authority.
	DefaultFlashloanSeed = "flashloan-seed"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL string
	KeypairPath  string

	// Trade program configuration
	ProgramID         solana.PublicKey
	LendingProgramIDs []solana.PublicKey
	FlashloanSeed     string
	MinTradeAmount    uint64
	ReserveLiquidity  uint64

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	TradeTimeout      time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.KeypairPath = os.Getenv("SOLANA_KEYPAIR_PATH")

	// Trade program configuration
	programID, err := parsePublicKey("PROGRAM_ID", DefaultProgramID)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProgramID = programID
	}

	lending, err := parsePublicKeyList("LENDING_PROGRAM_IDS", DefaultLendingProgramID)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LendingProgramIDs = lending
	}

	cfg.FlashloanSeed = getEnvOrDefault("FLASHLOAN_SEED", DefaultFlashloanSeed)
	if len(cfg.FlashloanSeed) > solana.MaxSeedLength {
		errs = append(errs, fmt.Errorf("FLASHLOAN_SEED must be at most %d bytes", solana.MaxSeedLength))
	}

	minAmount, err := parseUint("MIN_TRADE_AMOUNT", 1)
	if err != nil {
		errs = append(errs, err)
	} else if minAmount == 0 {
		errs = append(errs, fmt.Errorf("MIN_TRADE_AMOUNT must be at least 1"))
	} else {
		cfg.MinTradeAmount = minAmount
	}

	liquidity, err := parseUint("RESERVE_LIQUIDITY", 1_000_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReserveLiquidity = liquidity
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "flashtrade")

	timeout, err := parseDuration("TRADE_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TradeTimeout = timeout
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if len(c.LendingProgramIDs) == 0 {
		errs = append(errs, fmt.Errorf("LendingProgramIDs must not be empty"))
	}

	if c.FlashloanSeed == "" {
		errs = append(errs, fmt.Errorf("FlashloanSeed is required"))
	}

	if c.MinTradeAmount == 0 {
		errs = append(errs, fmt.Errorf("MinTradeAmount must be at least 1"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.TradeTimeout < time.Second {
		errs = append(errs, fmt.Errorf("TradeTimeout must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

// parsePublicKey parses a base58 address from an environment variable or uses a default.
func parsePublicKey(key, defaultValue string) (solana.PublicKey, error) {
	value := getEnvOrDefault(key, defaultValue)
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s: invalid address %q: %w", key, value, err)
	}
	return pk, nil
}

// parsePublicKeyList parses a comma-separated list of base58 addresses.
func parsePublicKeyList(key, defaultValue string) ([]solana.PublicKey, error) {
	value := getEnvOrDefault(key, defaultValue)
	var out []solana.PublicKey
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid address %q: %w", key, part, err)
		}
		out = append(out, pk)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s must list at least one address", key)
	}
	return out, nil
}
