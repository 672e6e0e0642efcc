package appconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/peerhours/libs/config"
)

type Config struct {
	Service  string
	LogLevel string
	Port     string
	GRPCPort string

	DatabaseURL   string
	DBMaxConns    int
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DirectoryTTL  time.Duration

	KafkaBrokers    string
	ProfileTopic    string
	ConsumerGroupID string
	OutboxPollEvery time.Duration
	OutboxAttempts  int
	OutboxRetention time.Duration
	ConsumerRetries int

	JWTSecret string
	JWKSURL   string
	JWTIssuer string

	Location          *time.Location
	OracleConcurrency int
	OracleTimeout     time.Duration
	MaxRangeDays      int
	DefaultDuration   int

	RateLimitPerMinute int
	RateLimitFailOpen  bool
	RequestTimeout     time.Duration
	CORSOrigins        []string
}

// Load reads the environment (after an optional .env) and validates it.
func Load() (Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Service:           config.String("SERVICE_NAME", "availability-service"),
		LogLevel:          config.String("LOG_LEVEL", "info"),
		RunMigrations:     config.Bool("RUN_MIGRATIONS", true),
		RedisAddr:         config.String("REDIS_ADDR", ""),
		RedisPassword:     config.String("REDIS_PASSWORD", ""),
		KafkaBrokers:      config.String("KAFKA_BROKERS", ""),
		ProfileTopic:      config.String("PROFILE_EVENTS_TOPIC", "identity.profile.updated.v1"),
		ConsumerGroupID:   config.String("KAFKA_GROUP_ID", "availability-service"),
		JWTSecret:         config.String("JWT_SECRET", ""),
		JWKSURL:           config.String("JWKS_URL", ""),
		JWTIssuer:         config.String("JWT_ISSUER", ""),
		RateLimitFailOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		CORSOrigins:       config.List("CORS_ALLOWED_ORIGINS", ""),
	}

	var err error
	cfg.Port, err = config.Port("PORT", "8087")
	keep(err)
	cfg.GRPCPort, err = config.Port("GRPC_PORT", "9097")
	keep(err)
	cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL")
	keep(err)
	cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10)
	keep(err)
	cfg.RedisDB, err = config.Int("REDIS_DB", 0)
	keep(err)
	cfg.DirectoryTTL, err = config.Duration("DIRECTORY_CACHE_TTL", 10*time.Minute)
	keep(err)
	cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	keep(err)
	cfg.OutboxAttempts, err = config.Int("OUTBOX_MAX_ATTEMPTS", 10)
	keep(err)
	cfg.OutboxRetention, err = config.Duration("OUTBOX_RETENTION", 168*time.Hour)
	keep(err)
	cfg.ConsumerRetries, err = config.Int("CONSUMER_MAX_ATTEMPTS", 3)
	keep(err)
	cfg.OracleConcurrency, err = config.Int("ORACLE_CONCURRENCY", 8)
	keep(err)
	cfg.OracleTimeout, err = config.Duration("ORACLE_TIMEOUT", 2*time.Second)
	keep(err)
	cfg.MaxRangeDays, err = config.Int("MAX_RANGE_DAYS", 93)
	keep(err)
	cfg.DefaultDuration, err = config.Int("DEFAULT_DURATION_MINUTES", 60)
	keep(err)
	cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120)
	keep(err)
	cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 15*time.Second)
	keep(err)

	tz := config.String("SCHEDULE_TIMEZONE", "UTC")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULE_TIMEZONE %q: %w", tz, err))
	}

	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or JWKS_URL is required"))
	}
	if cfg.OracleConcurrency < 1 {
		errs = append(errs, errors.New("ORACLE_CONCURRENCY must be at least 1"))
	}
	if cfg.OracleTimeout <= 0 {
		errs = append(errs, errors.New("ORACLE_TIMEOUT must be positive"))
	}
	if cfg.MaxRangeDays < 1 {
		errs = append(errs, errors.New("MAX_RANGE_DAYS must be at least 1"))
	}
	if cfg.DefaultDuration < 1 || cfg.DefaultDuration > 24*60 {
		errs = append(errs, errors.New("DEFAULT_DURATION_MINUTES must be between 1 and 1440"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
