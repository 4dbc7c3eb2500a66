package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string

	Auth     Auth
	Protocol Protocol
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Limits   RateLimitConfig
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string
	Issuer        string
	// Grants seeds the role table: account id -> capability names.
	Grants map[string][]string
}

// Protocol holds the economic parameters of the core.
type Protocol struct {
	MinAttestorStake  decimal.Decimal
	TokenizationFeeBP uint32
	SettlementFeeBP   uint32
	MaxTokenSupply    decimal.Decimal
}

// PostgresConfig configures the durable stores. An empty URL selects
// in-memory stores.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// TxTimeout bounds a cross-store unit of work.
	TxTimeout time.Duration
}

// RedisConfig configures the shared policy store. An empty URL selects the
// in-memory policy store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the event stream. No brokers means events are only
// kept in the local audit store.
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	FailureThreshold int
	BufferSize       int
}

// RateLimitConfig bounds requests per caller (or client IP when anonymous)
// over a sliding window.
type RateLimitConfig struct {
	Disabled       bool
	ReadPerWindow  int
	WritePerWindow int
	Window         time.Duration
}

const (
	// MaxTokenizationFeeBP caps the ad-valorem tokenization fee at 10%.
	MaxTokenizationFeeBP = 1000
	// DefaultTopic receives every protocol event.
	DefaultTopic = "trustcore.events"
)

// DefaultProtocol returns the protocol parameters used when nothing is
// overridden.
func DefaultProtocol() Protocol {
	return Protocol{
		MinAttestorStake:  decimal.NewFromInt(1000),
		TokenizationFeeBP: 100,
		SettlementFeeBP:   100,
		MaxTokenSupply:    decimal.NewFromInt(1_000_000_000),
	}
}

// Validate rejects protocol parameters the core cannot operate with.
func (p Protocol) Validate() error {
	if !p.MinAttestorStake.IsPositive() {
		return fmt.Errorf("MIN_ATTESTOR_STAKE must be positive")
	}
	if p.TokenizationFeeBP > MaxTokenizationFeeBP {
		return fmt.Errorf("TOKENIZATION_FEE_BP must be <= %d", MaxTokenizationFeeBP)
	}
	if p.SettlementFeeBP > 10000 {
		return fmt.Errorf("SETTLEMENT_FEE_BP must be <= 10000")
	}
	if !p.MaxTokenSupply.IsPositive() {
		return fmt.Errorf("MAX_TOKEN_SUPPLY must be positive")
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:        envOr("TRUSTCORE_ADDR", ":8080"),
		Environment: envOr("TRUSTCORE_ENV", "development"),
		Auth: Auth{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:        envOr("JWT_ISSUER", "trustcore"),
		},
		Protocol: DefaultProtocol(),
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			TxTimeout:       5 * time.Second,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:            envOr("KAFKA_TOPIC", DefaultTopic),
			FailureThreshold: 5,
			BufferSize:       10000,
		},
		Limits: RateLimitConfig{
			Disabled:       os.Getenv("RATELIMIT_DISABLED") == "true",
			ReadPerWindow:  300,
			WritePerWindow: 60,
			Window:         time.Minute,
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}

	grants, err := parseGrants(os.Getenv("TRUSTCORE_GRANTS"))
	if err != nil {
		return Server{}, err
	}
	cfg.Auth.Grants = grants

	if cfg.Auth.JWTSigningKey == "" {
		if cfg.IsProduction() {
			return Server{}, fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		// Development default; never used in production.
		cfg.Auth.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	if cfg.Protocol.MinAttestorStake, err = envDecimal("MIN_ATTESTOR_STAKE", cfg.Protocol.MinAttestorStake); err != nil {
		return Server{}, err
	}
	if cfg.Protocol.MaxTokenSupply, err = envDecimal("MAX_TOKEN_SUPPLY", cfg.Protocol.MaxTokenSupply); err != nil {
		return Server{}, err
	}
	if cfg.Protocol.TokenizationFeeBP, err = envUint32("TOKENIZATION_FEE_BP", cfg.Protocol.TokenizationFeeBP); err != nil {
		return Server{}, err
	}
	if cfg.Protocol.SettlementFeeBP, err = envUint32("SETTLEMENT_FEE_BP", cfg.Protocol.SettlementFeeBP); err != nil {
		return Server{}, err
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return Server{}, err
	}
	if cfg.Limits.ReadPerWindow, err = envInt("RATELIMIT_READ_PER_MINUTE", cfg.Limits.ReadPerWindow); err != nil {
		return Server{}, err
	}
	if cfg.Limits.WritePerWindow, err = envInt("RATELIMIT_WRITE_PER_MINUTE", cfg.Limits.WritePerWindow); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envUint32(key string, fallback uint32) (uint32, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return uint32(v), nil
}

// parseGrants reads "acct=cap+cap,acct2=cap".
func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("parse %s: must be a positive integer", key)
	}
	return v, nil
}

func parseGrants(raw string) (map[string][]string, error) {
	grants := map[string][]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		account, caps, ok := strings.Cut(entry, "=")
		account = strings.TrimSpace(account)
		if !ok || account == "" || caps == "" {
			return nil, fmt.Errorf("parse TRUSTCORE_GRANTS: malformed entry %q", entry)
		}
		for _, c := range strings.Split(caps, "+") {
			if c = strings.TrimSpace(c); c != "" {
				grants[account] = append(grants[account], c)
			}
		}
	}
	return grants, nil
}
