package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Export ingestion limits
	MaxExportSizeBytes int64
	MaxExportRows      int

	// Ledger service (external accounting API) settings
	LedgerBaseURL      string
	LedgerTokenURL     string
	LedgerClientID     string
	LedgerClientSecret string
	LedgerRealmID      string
	LedgerPageSize     int
	LedgerCallInterval time.Duration

	// Posting behaviour
	PostingEnabled bool

	// Admin Users
	AdminEmails []string
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	// 1. Try loading from the current directory (standard behavior)
	errEnv := godotenv.Load()

	// 2. If not found, try loading from the parent directory (common when running from /backend)
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	// --- Ledger service (secrets) ---
	// Required because the posting pipeline cannot run without them; the
	// reconciliation CLI loads config with LoadConfigForTools instead.
	ledgerBaseURL := getRequiredEnv("LEDGER_BASE_URL")
	ledgerClientID := getRequiredEnv("LEDGER_CLIENT_ID")
	ledgerClientSecret := getRequiredEnv("LEDGER_CLIENT_SECRET")
	ledgerRealmID := getRequiredEnv("LEDGER_REALM_ID")

	// --- File Size Limits ---
	maxExportSizeBytesStr := getEnv("MAX_EXPORT_SIZE_BYTES", "20971520") // 20MB default
	maxExportSizeBytes, err := strconv.ParseInt(maxExportSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_EXPORT_SIZE_BYTES format '%s'. Using default 20MB. Error: %v", maxExportSizeBytesStr, err)
		maxExportSizeBytes = 20 * 1024 * 1024
	}

	// --- Populate the Global Config Struct ---
	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./plutus.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		// Ingestion limits
		MaxExportSizeBytes: maxExportSizeBytes,
		MaxExportRows:      getEnvAsInt("MAX_EXPORT_ROWS", 250000),

		// Ledger service
		LedgerBaseURL:      ledgerBaseURL,
		LedgerTokenURL:     getEnv("LEDGER_TOKEN_URL", ledgerBaseURL+"/oauth2/token"),
		LedgerClientID:     ledgerClientID,
		LedgerClientSecret: ledgerClientSecret,
		LedgerRealmID:      ledgerRealmID,
		LedgerPageSize:     getEnvAsInt("LEDGER_PAGE_SIZE", 100),
		LedgerCallInterval: getEnvAsDuration("LEDGER_CALL_INTERVAL", 250*time.Millisecond),

		// Posting
		PostingEnabled: getEnv("POSTING_ENABLED", "false") == "true",

		// Admin Users
		AdminEmails: getAdminEmails("ADMIN_EMAILS"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, LedgerBaseURL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.LedgerBaseURL)
}

// LoadConfigForTools loads configuration for offline CLI tools that never
// touch the ledger service, so the ledger secrets are not required.
func LoadConfigForTools() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	Cfg = &AppConfig{
		DatabasePath:       getEnv("DATABASE_PATH", "./plutus.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxExportSizeBytes: 20 * 1024 * 1024,
		MaxExportRows:      getEnvAsInt("MAX_EXPORT_ROWS", 250000),
		LedgerPageSize:     getEnvAsInt("LEDGER_PAGE_SIZE", 100),
		LedgerCallInterval: getEnvAsDuration("LEDGER_CALL_INTERVAL", 250*time.Millisecond),
	}
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getRequiredEnv retrieves an environment variable or terminates the application if not set.
func getRequiredEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set or is empty. Application cannot start.", key)
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getAdminEmails retrieves and parses the comma-separated list of admin emails.
func getAdminEmails(key string) []string {
	emailsStr := getEnv(key, "")
	if emailsStr == "" {
		return []string{}
	}
	emails := strings.Split(emailsStr, ",")
	for i, email := range emails {
		emails[i] = strings.TrimSpace(email)
	}
	return emails
}
