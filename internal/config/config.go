package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port  string
	DBUrl string

	AppEnv string

	// External directory (identity resolution).
	DirectoryBaseURL string
	DirectoryToken   string
	RoleTeacherAlias string
	RoleStudentAlias string

	// Checkout providers.
	StripeSecretKey    string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalEnv          string

	// Payment redirect targets.
	BaseSiteURL       string
	PaymentSuccessURL string
	PaymentCancelURL  string

	Currency string

	// Minutes an ended live session survives before dashboard pruning.
	LiveSessionCleanupMinutes int
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	dbURL := getEnv("DB_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	return &Config{
		Port:                      getEnv("PORT", "8080"),
		DBUrl:                     dbURL,
		AppEnv:                    normalizeEnv(getEnv("APP_ENV", "production")),
		DirectoryBaseURL:          getEnv("DIRECTORY_BASE_URL", ""),
		DirectoryToken:            getEnv("DIRECTORY_API_TOKEN", ""),
		RoleTeacherAlias:          getEnv("DIRECTORY_ROLE_TEACHER", ""),
		RoleStudentAlias:          getEnv("DIRECTORY_ROLE_STUDENT", ""),
		StripeSecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
		PayPalClientID:            getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret:        getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalEnv:                 getEnv("PAYPAL_ENV", "sandbox"),
		BaseSiteURL:               getEnv("BASE_SITE_URL", ""),
		PaymentSuccessURL:         getEnv("PAYMENT_SUCCESS_URL", ""),
		PaymentCancelURL:          getEnv("PAYMENT_CANCEL_URL", ""),
		Currency:                  getEnv("CURRENCY", "EUR"),
		LiveSessionCleanupMinutes: getEnvInt("LIVE_SESSION_CLEANUP_MINUTES", 30),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

// DefaultSuccessURL is the redirect used when a checkout request does not
// carry its own success URL.
func (c *Config) DefaultSuccessURL() string {
	if c.PaymentSuccessURL != "" {
		return strings.TrimSpace(c.PaymentSuccessURL)
	}
	if c.BaseSiteURL != "" {
		return strings.TrimRight(c.BaseSiteURL, "/") + "/paiement-ok/"
	}
	return "https://example.com/paiement-ok/"
}

func (c *Config) DefaultCancelURL() string {
	if c.PaymentCancelURL != "" {
		return strings.TrimSpace(c.PaymentCancelURL)
	}
	if c.BaseSiteURL != "" {
		return strings.TrimRight(c.BaseSiteURL, "/") + "/paiement-annule/"
	}
	return "https://example.com/paiement-annule/"
}

func (c *Config) HasStripe() bool {
	return c.StripeSecretKey != ""
}

func (c *Config) HasPayPal() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}
