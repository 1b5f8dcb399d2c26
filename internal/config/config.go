package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	ProviderRandom = "random"
	ProviderYahoo  = "yahoo"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	Port           string
	Store          string
	DBURL          string
	SQLitePath     string
	QuoteProvider  string
	QuoteTimeout   time.Duration
	PriceTTL       time.Duration
	Environment    string
	OpeningCash    decimal.Decimal
	MaxRetries     int
	KafkaBrokers   []string
	KafkaTopic     string
	UnknownSymbols []string
}

// fileConfig is the YAML shape of CONFIG_FILE. Every key is optional.
type fileConfig struct {
	Port                string   `yaml:"port"`
	Store               string   `yaml:"store"`
	DatabaseURL         string   `yaml:"database_url"`
	SQLitePath          string   `yaml:"sqlite_path"`
	QuoteProvider       string   `yaml:"quote_provider"`
	QuoteTimeoutSeconds int      `yaml:"quote_timeout_seconds"`
	PriceTTLMinutes     int      `yaml:"price_ttl_minutes"`
	Environment         string   `yaml:"environment"`
	OpeningCash         string   `yaml:"opening_cash"`
	MaxRetries          int      `yaml:"max_retries"`
	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaTopic          string   `yaml:"kafka_topic"`
	UnknownSymbols      []string `yaml:"unknown_symbols"`
}

func defaults() fileConfig {
	return fileConfig{
		Port:                "8080",
		SQLitePath:          "ledger.db",
		QuoteProvider:       ProviderRandom,
		QuoteTimeoutSeconds: 5,
		PriceTTLMinutes:     60,
		Environment:         "local",
		OpeningCash:         "10000",
		MaxRetries:          3,
		KafkaTopic:          "ledger.trades",
		UnknownSymbols:      []string{"ZZZZ"},
	}
}

// Load reads configuration from environment variables. A .env file is loaded
// if present to simplify local development. We look in bin/.env so the file
// can live alongside a built binary, and fall back to .env in the project
// root. When CONFIG_FILE names a YAML file its values replace the defaults;
// environment variables still win over both.
func Load() (Config, error) {
	loadDotEnv()

	fc := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:           getString("PORT", fc.Port),
		DBURL:          getString("DATABASE_URL", fc.DatabaseURL),
		SQLitePath:     getString("SQLITE_PATH", fc.SQLitePath),
		QuoteProvider:  strings.ToLower(getString("QUOTE_PROVIDER", fc.QuoteProvider)),
		QuoteTimeout:   getDuration("QUOTE_TIMEOUT_SECONDS", fc.QuoteTimeoutSeconds, time.Second),
		PriceTTL:       getDuration("PRICE_TTL_MINUTES", fc.PriceTTLMinutes, time.Minute),
		Environment:    getString("ENVIRONMENT", fc.Environment),
		MaxRetries:     getInt("MAX_RETRIES", fc.MaxRetries),
		KafkaBrokers:   getList("KAFKA_BROKERS", fc.KafkaBrokers),
		KafkaTopic:     getString("KAFKA_TOPIC", fc.KafkaTopic),
		UnknownSymbols: getList("UNKNOWN_SYMBOLS", fc.UnknownSymbols),
	}

	cash, err := decimal.NewFromString(getString("OPENING_CASH", fc.OpeningCash))
	if err != nil || cash.IsNegative() || !models.FitsCashScale(cash) {
		return Config{}, fmt.Errorf("OPENING_CASH must be a non-negative decimal with at most %d places", models.CashScale)
	}
	cfg.OpeningCash = cash

	cfg.Store = strings.ToLower(getString("STORE", fc.Store))
	if cfg.Store == "" {
		cfg.Store = StoreMemory
		if cfg.DBURL != "" {
			cfg.Store = StorePostgres
		}
	}
	switch cfg.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("STORE=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.QuoteProvider != ProviderRandom && cfg.QuoteProvider != ProviderYahoo {
		return Config{}, fmt.Errorf("unknown QUOTE_PROVIDER %q", cfg.QuoteProvider)
	}
	return cfg, nil
}

func loadDotEnv() {
	candidates := []string{
		filepath.Join("bin", ".env"),
		".env",
	}

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append([]string{
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "bin", ".env"),
		}, candidates...)
	}

	for _, path := range candidates {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("invalid value for %s, using fallback: %v", key, err)
			return fallback
		}
		return n
	}
	return fallback
}

func getDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getInt(key, fallback)) * unit
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
