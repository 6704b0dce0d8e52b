package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Idempotency    IdempotencyConfig
	Reconciliation ReconciliationConfig
	Commission     CommissionConfig
	Referral       ReferralConfig
	Gateways       GatewayConfig
	Firebase       FirebaseConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AdminToken guards operator routes; empty disables them.
	AdminToken   string
}

type DatabaseConfig struct {
	Driver          string // mysql | postgres | sqlite
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IdempotencyConfig struct {
	Backend string // redis | database
	TTL     time.Duration
}

type ReconciliationConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration
	BatchSize      int
	VerifyAttempts int
	VerifyBackoff  time.Duration
}

type CommissionConfig struct {
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

type ReferralConfig struct {
	// Levels is "name:min:rate" triples separated by commas, e.g. "bronze:0:0.05,silver:10:0.10".
	Levels       string
	CodeValidity time.Duration
}

type GatewayConfig struct {
	NotifyBaseURL string // public base URL; webhook path is /api/v1/webhooks/{gateway}
	ReturnURL     string
	CinetPay      CinetPayConfig
	Fapshi        FapshiConfig
	PayPal        PayPalConfig
	Manual        ManualConfig
}

type CinetPayConfig struct {
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string
}

type FapshiConfig struct {
	BaseURL string
	APIUser string
	APIKey  string
}

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
}

type ManualConfig struct {
	WebhookSecret string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type RateLimitConfig struct {
	WebhookPerSecond float64
	WebhookBurst     int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8099"),
			Env:          getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			AdminToken:   getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "paycore:paycore@tcp(localhost:3306)/paycore?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Backend: getEnv("IDEMPOTENCY_BACKEND", "redis"),
			TTL:     getEnvAsDuration("IDEMPOTENCY_TTL", 72*time.Hour),
		},
		Reconciliation: ReconciliationConfig{
			Interval:       getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter:     getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			BatchSize:      getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
			VerifyAttempts: getEnvAsInt("RECONCILE_VERIFY_ATTEMPTS", 3),
			VerifyBackoff:  getEnvAsDuration("RECONCILE_VERIFY_BACKOFF", 500*time.Millisecond),
		},
		Commission: CommissionConfig{
			PollInterval: getEnvAsDuration("COMMISSION_POLL_INTERVAL", 30*time.Second),
			BatchSize:    getEnvAsInt("COMMISSION_BATCH_SIZE", 50),
			BaseBackoff:  getEnvAsDuration("COMMISSION_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:   getEnvAsDuration("COMMISSION_MAX_BACKOFF", 30*time.Minute),
		},
		Referral: ReferralConfig{
			Levels:       getEnv("REFERRAL_LEVELS", "bronze:0:0.05,silver:10:0.10,gold:50:0.15"),
			CodeValidity: getEnvAsDuration("REFERRAL_CODE_VALIDITY", 365*24*time.Hour),
		},
		Gateways: GatewayConfig{
			NotifyBaseURL: getEnv("GATEWAY_NOTIFY_BASE_URL", "http://localhost:8099"),
			ReturnURL:     getEnv("GATEWAY_RETURN_URL", "http://localhost:3000/payments/return"),
			CinetPay: CinetPayConfig{
				BaseURL:   getEnv("CINETPAY_BASE_URL", "https://api-checkout.cinetpay.com"),
				APIKey:    getEnv("CINETPAY_API_KEY", ""),
				SiteID:    getEnv("CINETPAY_SITE_ID", ""),
				SecretKey: getEnv("CINETPAY_SECRET_KEY", ""),
			},
			Fapshi: FapshiConfig{
				BaseURL: getEnv("FAPSHI_BASE_URL", "https://live.fapshi.com"),
				APIUser: getEnv("FAPSHI_API_USER", ""),
				APIKey:  getEnv("FAPSHI_API_KEY", ""),
			},
			PayPal: PayPalConfig{
				BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
				ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
				ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
				WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
			},
			Manual: ManualConfig{
				WebhookSecret: getEnv("MANUAL_WEBHOOK_SECRET", ""),
			},
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			WebhookPerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 20),
			WebhookBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 40),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
