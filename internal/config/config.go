package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// BaseURL is the public origin used to build checkout success and
	// cancel URLs handed to the providers.
	BaseURL string

	AuthCookieSecure bool
	SessionTTL       time.Duration

	// SessionStore selects the session backend: "db" or "redis".
	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string

	// RateLimitEnabled gates the redis-backed throttle on the public kiosk
	// lookup endpoint.
	RateLimitEnabled bool
	KioskLookupRate  float64
	KioskLookupBurst int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// ProviderTimeout bounds every outbound provider API call.
	ProviderTimeout time.Duration

	Stripe  StripeConfig
	Paymob  PaymobConfig
	PayTabs PayTabsConfig
	Paddle  PaddleConfig
}

// StripeConfig carries the global card processor credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// PaymobConfig carries the Egypt processor credentials. Kiosk payments
// (aman/masary) use a dedicated integration id.
type PaymobConfig struct {
	APIKey             string
	HMACSecret         string
	IntegrationID      string
	KioskIntegrationID string
	IframeID           string
}

// PayTabsConfig carries the GCC processor credentials.
type PayTabsConfig struct {
	ProfileID string
	ServerKey string
	Region    string
}

// PaddleConfig carries the merchant-of-record credentials.
type PaddleConfig struct {
	APIKey        string
	WebhookSecret string
}

// Load reads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	return Config{
		AppName:          getenv("APP_SERVICE", "wasla"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		BaseURL:          strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		AuthCookieSecure: authCookieSecure,
		SessionTTL:       getenvDuration("SESSION_TTL", 720*time.Hour),
		SessionStore:     strings.ToLower(getenv("SESSION_STORE", "db")),
		RedisAddr:        strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		RedisDB:          getenvInt("REDIS_DB", 0),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),
		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", false),
		KioskLookupRate:  getenvFloat("KIOSK_LOOKUP_RATE", 1),
		KioskLookupBurst: getenvInt("KIOSK_LOOKUP_BURST", 10),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "wasla"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 10*time.Second),

		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		Paymob: PaymobConfig{
			APIKey:             strings.TrimSpace(getenv("PAYMOB_API_KEY", "")),
			HMACSecret:         strings.TrimSpace(getenv("PAYMOB_HMAC_SECRET", "")),
			IntegrationID:      strings.TrimSpace(getenv("PAYMOB_INTEGRATION_ID", "")),
			KioskIntegrationID: strings.TrimSpace(getenv("PAYMOB_KIOSK_INTEGRATION_ID", "")),
			IframeID:           strings.TrimSpace(getenv("PAYMOB_IFRAME_ID", "")),
		},
		PayTabs: PayTabsConfig{
			ProfileID: strings.TrimSpace(getenv("PAYTABS_PROFILE_ID", "")),
			ServerKey: strings.TrimSpace(getenv("PAYTABS_SERVER_KEY", "")),
			Region:    strings.TrimSpace(getenv("PAYTABS_REGION", "ARE")),
		},
		Paddle: PaddleConfig{
			APIKey:        strings.TrimSpace(getenv("PADDLE_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("PADDLE_WEBHOOK_SECRET", "")),
		},
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRoutingHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
