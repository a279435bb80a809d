// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Retention holds per-table retention horizons in calendar days.
type Retention struct {
	DailyBars  int // N1
	MoneyFlow  int // N2
	SectorFlow int // N3
	HotRank    int // N4
}

// Backup holds S3-compatible backup settings. Backups are disabled when the
// bucket or credentials are empty.
type Backup struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	KeepArchives    int
}

// Config holds application configuration
type Config struct {
	DataDir          string
	Port             int
	LogLevel         string
	DevMode          bool
	SchedulerEnabled bool

	// Vendor endpoints and budgets
	EastmoneyBaseURL string
	XueqiuBaseURL    string
	VendorRateLimit  float64 // requests per second per vendor
	VendorBurst      int

	// Pipeline / predictor
	RSRSIndexCode    string   // broad-market index for regime detection
	ConceptBlacklist []string // concept names excluded from sector queries

	Retention Retention
	Backup    Backup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKETPULSE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8001),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		SchedulerEnabled: getEnvAsBool("SCHEDULER_ENABLED", true),

		EastmoneyBaseURL: getEnv("EASTMONEY_BASE_URL", "https://push2.eastmoney.com"),
		XueqiuBaseURL:    getEnv("XUEQIU_BASE_URL", "https://stock.xueqiu.com"),
		VendorRateLimit:  getEnvAsFloat("VENDOR_RATE_LIMIT", 5.0),
		VendorBurst:      getEnvAsInt("VENDOR_BURST", 10),

		RSRSIndexCode:    getEnv("RSRS_INDEX_CODE", "000852"),
		ConceptBlacklist: parseCSV(getEnv("CONCEPT_BLACKLIST", "昨日涨停,昨日连板,融资融券,转融券标的")),

		Retention: Retention{
			DailyBars:  getEnvAsInt("RETENTION_DAILY_BARS", 1095),
			MoneyFlow:  getEnvAsInt("RETENTION_MONEY_FLOW", 1095),
			SectorFlow: getEnvAsInt("RETENTION_SECTOR_FLOW", 365),
			HotRank:    getEnvAsInt("RETENTION_HOT_RANK", 30),
		},
		Backup: Backup{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			KeepArchives:    getEnvAsInt("BACKUP_KEEP_ARCHIVES", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.VendorRateLimit <= 0 {
		return fmt.Errorf("vendor rate limit must be positive")
	}
	return nil
}

// BackupEnabled reports whether S3 backups are configured.
func (c *Config) BackupEnabled() bool {
	b := c.Backup
	return b.Bucket != "" && b.AccessKeyID != "" && b.SecretAccessKey != ""
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
