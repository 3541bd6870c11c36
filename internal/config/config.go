// Package config loads service configuration from the environment and
// manager limits from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/atmx/backtest-engine/internal/manager"
)

// Config is the process-level configuration.
type Config struct {
	Port              string
	DatabaseURL       string // empty disables the Postgres store
	RedisURL          string // empty disables the candle cache
	DataDir           string // candle CSV directory
	PortfolioDir      string // portfolio CSV directory
	ManagerConfigPath string // JSON file with manager limits
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		Port:              getenv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		DataDir:           getenv("DATA_DIR", "./data"),
		PortfolioDir:      getenv("PORTFOLIO_DIR", "./portfolio"),
		ManagerConfigPath: os.Getenv("MANAGER_CONFIG"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadManagerConfig reads and validates manager limits from a JSON
// file. Decimal fields accept JSON numbers or strings.
func LoadManagerConfig(path string) (manager.Config, error) {
	var cfg manager.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
