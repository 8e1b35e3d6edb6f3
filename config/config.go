package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Host string
	Port string

	DBDriver      string // mysql or postgres
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	DBAutoMigrate bool

	RedisAddr     string // empty disables the summary cache
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration

	AdminUsername string
	AdminPassword string

	FulfillmentURL     string
	FulfillmentSecret  string
	FulfillmentTimeout time.Duration

	PaymentWebhookSecret string

	ReconcileInterval   time.Duration
	RefundRetryAttempts int
	SummaryCacheTTL     time.Duration
}

func Load() *Config {
	return &Config{
		Host: envOr("HOST", "127.0.0.1"),
		Port: envOr("PORT", "3000"),

		DBDriver:      envOr("DB_DRIVER", "mysql"),
		DBHost:        envOr("DB_HOST", "127.0.0.1"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     envOr("DB_SSLMODE", "disable"),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    time.Duration(envInt("JWT_TTL_HOURS", 12)) * time.Hour,

		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		FulfillmentURL:     os.Getenv("FULFILLMENT_URL"),
		FulfillmentSecret:  os.Getenv("FULFILLMENT_SECRET"),
		FulfillmentTimeout: time.Duration(envInt("FULFILLMENT_TIMEOUT_SECONDS", 10)) * time.Second,

		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),

		ReconcileInterval:   time.Duration(envInt("RECONCILE_INTERVAL_SECONDS", 60)) * time.Second,
		RefundRetryAttempts: envInt("REFUND_RETRY_ATTEMPTS", 3),
		SummaryCacheTTL:     time.Duration(envInt("SUMMARY_CACHE_TTL_SECONDS", 30)) * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt ignores unparsable and non-positive values.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
