package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	BackendMongo  = "mongo"
	BackendCRDB   = "crdb"
	BackendMemory = "memory"
)

type Config struct {
	StoreBackend      string
	MongoURI          string
	MongoDB           string
	CRDBDSN           string
	RedisAddr         string
	RabbitURL         string
	JWTSecret         string
	TokenTTL          time.Duration
	BcryptCost        int
	AllowAdminSignup  bool
	HTTPAddr          string
	OTLPEndpoint      string
	LogLevel          string
	LedgerMaxRetries  int
	IdempotencyTTL    time.Duration
	RateLimitPerMin   int
	ReconcileInterval time.Duration
}

// Load reads the environment, after merging a .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StoreBackend: getenv("STORE_BACKEND", BackendMongo),
		MongoURI:     getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getenv("MONGO_DB", "event_ticketing"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		HTTPAddr:     getenv("HTTP_ADDR", ":5000"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.TokenTTL, err = duration("TOKEN_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = duration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = integer("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if cfg.LedgerMaxRetries, err = integer("LEDGER_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMin, err = integer("RATE_LIMIT_PER_MINUTE", 100); err != nil {
		return nil, err
	}
	if v := os.Getenv("ALLOW_ADMIN_SIGNUP"); v != "" {
		if cfg.AllowAdminSignup, err = strconv.ParseBool(v); err != nil {
			return nil, errors.Wrapf(err, "ALLOW_ADMIN_SIGNUP")
		}
	}

	switch cfg.StoreBackend {
	case BackendMongo, BackendMemory:
	case BackendCRDB:
		if cfg.CRDBDSN == "" {
			return nil, errors.New("CRDB_DSN is required for the crdb backend")
		}
	default:
		return nil, errors.Newf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive", key)
	}
	return d, nil
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	if n <= 0 {
		return 0, errors.Newf("%s must be positive", key)
	}
	return n, nil
}
