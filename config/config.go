package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Payment  PaymentConfig
	Daraja   DarajaConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig verifies customer access tokens issued by the storefront auth
// service. This service never issues tokens of its own.
type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type PaymentConfig struct {
	// ProviderTimeout bounds the outbound STK call. Hitting it is a
	// provider-unavailable error, distinct from the business timeout below.
	ProviderTimeout time.Duration
	// PendingMaxAge is the business timeout: PENDING requests older than
	// this are swept to TIMED_OUT.
	PendingMaxAge time.Duration
	SweepInterval time.Duration
}

// DarajaConfig for M-Pesa STK push via the Safaricom Daraja API.
type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	WebhookBaseURL string // e.g. https://shop.example.com - callback will be WebhookBaseURL + /api/v1/webhooks/mpesa
}

// KafkaConfig for terminal payment events. Publishing is disabled when
// Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getenv("PORT", "8090"),
			Env:          getenv("APP_ENV", "development"),
			ReadTimeout:  getduration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getduration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getenv("DATABASE_DSN", "nutbutter:nutbutter@tcp(localhost:3306)/nutbutter?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    getint("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getint("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getduration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: getenv("JWT_ACCESS_SECRET", "change-me-in-production"),
			Issuer:       getenv("JWT_ISSUER", "nutbutter-store"),
		},
		Payment: PaymentConfig{
			ProviderTimeout: getduration("PAYMENT_PROVIDER_TIMEOUT", 30*time.Second),
			PendingMaxAge:   getduration("PAYMENT_PENDING_MAX_AGE", 2*time.Minute),
			SweepInterval:   getduration("PAYMENT_SWEEP_INTERVAL", 30*time.Second),
		},
		Daraja: DarajaConfig{
			BaseURL:        getenv("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
			ShortCode:      getenv("DARAJA_SHORT_CODE", "174379"),
			Passkey:        os.Getenv("DARAJA_PASSKEY"),
			WebhookBaseURL: os.Getenv("MPESA_WEBHOOK_BASE_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: getlist("KAFKA_BROKERS"),
			Topic:   getenv("KAFKA_PAYMENT_TOPIC", "payments.events"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
