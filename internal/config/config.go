package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Development placeholders. They are deliberately recognizable so a leaked
// development deployment cannot be mistaken for a configured one.
const (
	devSigningSecret = "insecure-dev-signing-secret-do-not-use"
	devEncryptionKey = "insecure-dev-encryption-key-32bb"
)

// Config contains runtime configuration values. Loaded once at startup and
// passed by value into each component; nothing reads the environment later.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string

	PlatformClientID     string
	PlatformClientSecret string
	PlatformScopes       string
	PlatformAPIVersion   string
	HostURL              string

	SessionSigningSecret string
	EncryptionKey        []byte
	SessionTTL           time.Duration
	ExchangeTimeout      time.Duration

	HandshakeStore   string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	HandshakeTTL     time.Duration
	JanitorInterval  time.Duration
	JanitorRetention time.Duration

	OpenAIAPIKey  string
	MaxUploadSize int64

	ServiceName          string
	RateLimitRPM         int
	RateLimitBurst       int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	// DevFallbacks lists secrets that fell back to development placeholders.
	// Logged once at startup; always empty in production.
	DevFallbacks []string
}

// Load reads configuration from environment variables. In production every
// secret is required and Load fails hard when one is missing; elsewhere the
// missing ones fall back to placeholders recorded in DevFallbacks.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		PlatformClientID:     os.Getenv("SHOPIFY_API_KEY"),
		PlatformClientSecret: os.Getenv("SHOPIFY_API_SECRET"),
		PlatformScopes:       getEnv("SCOPES", "write_content,read_content,read_themes,write_themes,read_products,read_orders"),
		PlatformAPIVersion:   getEnv("SHOPIFY_API_VERSION", "2025-04"),
		HostURL:              strings.TrimSuffix(getEnv("HOST", "http://localhost:8080"), "/"),
		SessionSigningSecret: os.Getenv("SESSION_SIGNING_SECRET"),
		SessionTTL:           getDuration("SESSION_TTL", 24*time.Hour),
		ExchangeTimeout:      getDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		HandshakeStore:       getEnv("HANDSHAKE_STORE", "postgres"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		HandshakeTTL:         getDuration("HANDSHAKE_TTL", time.Hour),
		JanitorInterval:      getDuration("JANITOR_INTERVAL", time.Hour),
		JanitorRetention:     getDuration("JANITOR_RETENTION", 24*time.Hour),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		MaxUploadSize:        int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
		ServiceName:          getEnv("SERVICE_NAME", "sds-shopify"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		RateLimitBurst:       getInt("RATE_LIMIT_BURST", 20),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	encryptionKey := os.Getenv("ENCRYPTION_KEY")

	if cfg.IsProduction() {
		var missing []string
		for name, value := range map[string]string{
			"SHOPIFY_API_KEY":        cfg.PlatformClientID,
			"SHOPIFY_API_SECRET":     cfg.PlatformClientSecret,
			"SESSION_SIGNING_SECRET": cfg.SessionSigningSecret,
			"ENCRYPTION_KEY":         encryptionKey,
			"DATABASE_URL":           cfg.DatabaseURL,
		} {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
		}
	} else {
		if cfg.PlatformClientID == "" {
			cfg.PlatformClientID = "dev-client-id"
			cfg.DevFallbacks = append(cfg.DevFallbacks, "SHOPIFY_API_KEY")
		}
		if cfg.PlatformClientSecret == "" {
			cfg.PlatformClientSecret = "dev-client-secret"
			cfg.DevFallbacks = append(cfg.DevFallbacks, "SHOPIFY_API_SECRET")
		}
		if cfg.SessionSigningSecret == "" {
			cfg.SessionSigningSecret = devSigningSecret
			cfg.DevFallbacks = append(cfg.DevFallbacks, "SESSION_SIGNING_SECRET")
		}
		if encryptionKey == "" {
			encryptionKey = devEncryptionKey
			cfg.DevFallbacks = append(cfg.DevFallbacks, "ENCRYPTION_KEY")
		}
	}

	if len(encryptionKey) != 32 {
		return Config{}, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	cfg.EncryptionKey = []byte(encryptionKey)

	switch cfg.HandshakeStore {
	case "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("HANDSHAKE_STORE must be postgres or redis, got %q", cfg.HandshakeStore)
	}

	return cfg, nil
}

// IsProduction reports whether the process runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedirectURI is the callback URL registered with the platform.
func (c Config) RedirectURI() string {
	return c.HostURL + "/auth/callback"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
