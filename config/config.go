// Package config handles application configuration.
//
// All settings are environment-provided with defaults, loaded once at startup
// into an immutable Config record that is passed explicitly to every
// component. Consensus parameters (reward, difficulty, halving) change the
// meaning of the chain and must not be edited on an existing data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the full daemon configuration.
type Config struct {
	// Storage
	DatabasePath string

	// Consensus parameters
	BaseMiningReward             float64
	BaseDifficulty               int
	MaxDifficulty                int
	DifficultyAdjustmentInterval int
	HalvingInterval              int
	TargetBlockTime              float64 // seconds

	// Ledger policy
	MaxPendingTransactions int
	MinTransactionFee      float64
	MaxBlockSize           int
	MiningTimeout          time.Duration
	MaxChainReorgDepth     int
	BlockValidationDepth   int

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// HTTP server
	Host string
	Port int

	// Logging
	Log LogConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DatabasePath:                 filepath.Join(defaultDataDir(), "ledger"),
		BaseMiningReward:             50,
		BaseDifficulty:               4,
		MaxDifficulty:                20,
		DifficultyAdjustmentInterval: 10,
		HalvingInterval:              100,
		TargetBlockTime:              10,
		MaxPendingTransactions:       1000,
		MinTransactionFee:            0.001,
		MaxBlockSize:                 100,
		MiningTimeout:                300 * time.Second,
		MaxChainReorgDepth:           10,
		BlockValidationDepth:         5,
		JWTSecret:                    "change-this-in-production",
		JWTExpiry:                    24 * time.Hour,
		Host:                         "0.0.0.0",
		Port:                         8080,
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load builds the configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	cfg := Default()

	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)

	var err error
	if cfg.BaseMiningReward, err = envFloat("BASE_MINING_REWARD", cfg.BaseMiningReward); err != nil {
		return nil, err
	}
	if cfg.BaseDifficulty, err = envInt("BASE_DIFFICULTY", cfg.BaseDifficulty); err != nil {
		return nil, err
	}
	if cfg.MaxDifficulty, err = envInt("MAX_DIFFICULTY", cfg.MaxDifficulty); err != nil {
		return nil, err
	}
	if cfg.DifficultyAdjustmentInterval, err = envInt("DIFFICULTY_ADJUSTMENT_INTERVAL", cfg.DifficultyAdjustmentInterval); err != nil {
		return nil, err
	}
	if cfg.HalvingInterval, err = envInt("HALVING_INTERVAL", cfg.HalvingInterval); err != nil {
		return nil, err
	}
	if cfg.TargetBlockTime, err = envFloat("TARGET_BLOCK_TIME", cfg.TargetBlockTime); err != nil {
		return nil, err
	}
	if cfg.MaxPendingTransactions, err = envInt("MAX_PENDING_TRANSACTIONS", cfg.MaxPendingTransactions); err != nil {
		return nil, err
	}
	if cfg.MinTransactionFee, err = envFloat("MIN_TRANSACTION_FEE", cfg.MinTransactionFee); err != nil {
		return nil, err
	}
	if cfg.MaxBlockSize, err = envInt("MAX_BLOCK_SIZE", cfg.MaxBlockSize); err != nil {
		return nil, err
	}
	if cfg.MiningTimeout, err = envSeconds("MINING_TIMEOUT", cfg.MiningTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxChainReorgDepth, err = envInt("MAX_CHAIN_REORG_DEPTH", cfg.MaxChainReorgDepth); err != nil {
		return nil, err
	}
	if cfg.BlockValidationDepth, err = envInt("BLOCK_VALIDATION_DEPTH", cfg.BlockValidationDepth); err != nil {
		return nil, err
	}

	cfg.JWTSecret = envString("JWT_SECRET_KEY", cfg.JWTSecret)
	expiresHours, err := envInt("JWT_EXPIRES_HOURS", int(cfg.JWTExpiry/time.Hour))
	if err != nil {
		return nil, err
	}
	cfg.JWTExpiry = time.Duration(expiresHours) * time.Hour

	cfg.Host = envString("HOST", cfg.Host)
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)
	cfg.Log.JSON = envString("LOG_JSON", "0") == "1"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.BaseMiningReward <= 0 {
		return fmt.Errorf("base mining reward must be positive, got %v", c.BaseMiningReward)
	}
	if c.BaseDifficulty < 1 {
		return fmt.Errorf("base difficulty must be >= 1, got %d", c.BaseDifficulty)
	}
	if c.MaxDifficulty < c.BaseDifficulty {
		return fmt.Errorf("max difficulty %d below base difficulty %d", c.MaxDifficulty, c.BaseDifficulty)
	}
	if c.DifficultyAdjustmentInterval < 1 {
		return fmt.Errorf("difficulty adjustment interval must be >= 1, got %d", c.DifficultyAdjustmentInterval)
	}
	if c.HalvingInterval < 1 {
		return fmt.Errorf("halving interval must be >= 1, got %d", c.HalvingInterval)
	}
	if c.TargetBlockTime <= 0 {
		return fmt.Errorf("target block time must be positive, got %v", c.TargetBlockTime)
	}
	if c.MaxPendingTransactions < 1 {
		return fmt.Errorf("max pending transactions must be >= 1, got %d", c.MaxPendingTransactions)
	}
	if c.MinTransactionFee < 0 {
		return fmt.Errorf("min transaction fee cannot be negative, got %v", c.MinTransactionFee)
	}
	if c.MaxBlockSize < 2 {
		// One slot is always reserved for the mining reward transaction.
		return fmt.Errorf("max block size must be >= 2, got %d", c.MaxBlockSize)
	}
	if c.MiningTimeout <= 0 {
		return fmt.Errorf("mining timeout must be positive, got %v", c.MiningTimeout)
	}
	if c.BlockValidationDepth < 1 {
		return fmt.Errorf("block validation depth must be >= 1, got %d", c.BlockValidationDepth)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// defaultDataDir returns the platform default data directory (~/.cadcoind).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadcoind"
	}
	return filepath.Join(home, ".cadcoind")
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// envSeconds parses a whole-seconds env var into a Duration.
func envSeconds(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return time.Duration(n) * time.Second, nil
}
