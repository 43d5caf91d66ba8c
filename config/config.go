package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

var (
	PORT        string
	DB_URL      string
	JWT_SECRET  string
	CORS_ORIGIN string
	APP_URL     string
	APP_ENV     string

	LOG_LEVEL  string
	LOG_FORMAT string

	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string
	STRIPE_API_URL        string
	STRIPE_PRICE_MONTH    string
	STRIPE_PRICE_YEAR     string

	MAIL_FROM     string
	MAIL_REPLY_TO string
	SMTP_HOST     string
	SMTP_PORT     string
	SMTP_USERNAME string
	SMTP_PASSWORD string

	POSTMARK_SERVER_TOKEN  string
	POSTMARK_ACCOUNT_TOKEN string
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	CORS_ORIGIN = getEnv("CORS_ORIGIN", "")
	APP_URL = getEnv("APP_URL", "")
	APP_ENV = getEnv("APP_ENV", "development")

	LOG_LEVEL = getEnv("LOG_LEVEL", "info")
	LOG_FORMAT = getEnv("LOG_FORMAT", "json")

	// Stripe is optional at boot; billing calls answer failed-precondition without it.
	STRIPE_SECRET_KEY = getEnv("STRIPE_SECRET_KEY", "")
	STRIPE_WEBHOOK_SECRET = getEnv("STRIPE_WEBHOOK_SECRET", "")
	STRIPE_API_URL = getEnv("STRIPE_API_URL", "")
	STRIPE_PRICE_MONTH = getEnv("STRIPE_PRICE_MONTH", "")
	STRIPE_PRICE_YEAR = getEnv("STRIPE_PRICE_YEAR", "")

	MAIL_FROM = getEnv("SMTP_FROM", "")
	MAIL_REPLY_TO = getEnv("MAIL_REPLY_TO", "")
	SMTP_HOST = getEnv("SMTP_HOST", "")
	SMTP_PORT = getEnv("SMTP_PORT", "587")
	SMTP_USERNAME = getEnv("SMTP_USERNAME", "")
	SMTP_PASSWORD = getEnv("SMTP_PASSWORD", "")

	POSTMARK_SERVER_TOKEN = getEnv("POSTMARK_SERVER_TOKEN", "")
	POSTMARK_ACCOUNT_TOKEN = getEnv("POSTMARK_ACCOUNT_TOKEN", "")
}

func IsProduction() bool {
	return APP_ENV == "production"
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
