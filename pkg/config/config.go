package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Gateway modes select the payment gateway hand-off endpoint.
const (
	GatewaySandbox    = "sandbox"
	GatewayProduction = "production"
)

// Config holds the runtime configuration for a storefront-adapter instance.
type Config struct {
	ServiceName string // e.g. "storefront-adapter"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.

	Port             int // fiber HTTP API
	WSPort           int // notification websocket listener, 0 disables it
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
	PublicBaseURL    string   // used to build gateway return URLs
	AllowedOrigins   []string // websocket origin allow-list, empty allows any

	// Marketplace backend
	MarketplaceURL      string
	MarketplaceTimeout  time.Duration
	MarketplaceRetryMax int // idempotent reads only; mutations are never retried
	RateLimitRPS        int
	RateLimitBurst      int
	RateLimitCooldown   time.Duration

	// Credentials
	JWTSecret string // when set, bearer tokens are verified before use

	// Payment gateway
	GatewayMode        string // sandbox | production
	SecretsBackend     string // aws | env
	AWSRegion          string
	CacheTTL           time.Duration
	CleanupFreq        time.Duration
	SimulationEnabled  bool
	SimulationDelay    time.Duration
	SimulationEmail    string
	SimulationPassword string

	// Lifecycle timings
	NotificationPollInterval time.Duration
	VerificationMemoTTL      time.Duration
	CheckoutLockTTL          time.Duration
	CartIdleTTL              time.Duration

	// Infrastructure
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	DatabaseURL string
	NATSURL     string
	RabbitMQURL string // optional second event sink
	EventStream string

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration
}

// GatewayEndpoint returns the hosted payment page for the configured mode.
func (c Config) GatewayEndpoint() string {
	if c.GatewayMode == GatewayProduction {
		return "https://esewa.com.np/epay/main"
	}
	return "https://uat.esewa.com.np/epay/main"
}

// minCartIdleTTL keeps the sweeper's half-TTL tick at a second or more.
const minCartIdleTTL = 2 * time.Second

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:      GetEnv("SERVICE_NAME", "storefront-adapter"),
		Env:              GetEnv("ENV", "dev"),
		LogLevel:         GetEnv("LOG_LEVEL", "info"),
		Port:             GetEnvInt("STOREFRONT_PORT", 9030),
		WSPort:           GetEnvInt("STOREFRONT_WS_PORT", 9031),
		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),
		PublicBaseURL:    GetEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		AllowedOrigins:   GetEnvList("ALLOWED_ORIGINS", nil),

		MarketplaceURL:      GetEnv("MARKETPLACE_URL", "http://localhost:8080/api"),
		MarketplaceTimeout:  GetEnvDuration("MARKETPLACE_TIMEOUT", 15*time.Second),
		MarketplaceRetryMax: GetEnvInt("MARKETPLACE_RETRY_MAX", 0),
		RateLimitRPS:        GetEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:      GetEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitCooldown:   GetEnvDuration("RATE_LIMIT_COOLDOWN", 0),

		JWTSecret: GetEnv("JWT_SECRET", ""),

		GatewayMode:        GetEnv("GATEWAY_MODE", GatewaySandbox),
		SecretsBackend:     GetEnv("SECRETS_BACKEND", "env"),
		AWSRegion:          GetEnv("AWS_REGION", "us-east-2"),
		CacheTTL:           GetEnvDuration("CACHE_TTL", 1*time.Hour),
		CleanupFreq:        GetEnvInterval("CACHE_CLEANUP_FREQ", 10*time.Minute, time.Second),
		SimulationEnabled:  GetEnvBool("SIMULATION_ENABLED", true),
		SimulationDelay:    GetEnvDuration("SIMULATION_DELAY", 3*time.Second),
		SimulationEmail:    GetEnv("SIMULATION_EMAIL", "test@esewa.com.np"),
		SimulationPassword: GetEnv("SIMULATION_PASSWORD", "test123"),

		NotificationPollInterval: GetEnvDuration("NOTIFICATION_POLL_INTERVAL", 30*time.Second),
		VerificationMemoTTL:      GetEnvDuration("VERIFICATION_MEMO_TTL", 24*time.Hour),
		CheckoutLockTTL:          GetEnvDuration("CHECKOUT_LOCK_TTL", 30*time.Second),
		CartIdleTTL:              GetEnvInterval("CART_IDLE_TTL", 30*time.Minute, minCartIdleTTL),

		RedisAddr:   GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),
		DatabaseURL: GetEnv("DATABASE_URL", ""),
		NATSURL:     GetEnv("NATS_URL", "nats://localhost:4222"),
		RabbitMQURL: GetEnv("RABBITMQ_URL", ""),
		EventStream: GetEnv("EVENT_STREAM", "STOREFRONT_EVENTS"),

		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}

	return cfg
}
