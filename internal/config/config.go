package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	StoreCockroach = "crdb"
	StoreMemory    = "memory"
)

type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"crdb"`
	CRDBDSN      string `env:"CRDB_DSN"`
	MongoURI     string `env:"MONGO_URI"`
	MongoDB      string `env:"MONGO_DB" envDefault:"inventory"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RabbitURL    string `env:"RABBIT_URL"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	TraceRatio float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`

	PaymentsBaseURL string        `env:"PAYMENTS_BASE_URL"`
	PaymentsTimeout time.Duration `env:"PAYMENTS_TIMEOUT" envDefault:"10s"`

	CartHoldTTL           time.Duration `env:"HOLD_TTL_CART" envDefault:"15m"`
	PaymentPendingHoldTTL time.Duration `env:"HOLD_TTL_PAYMENT_PENDING" envDefault:"30m"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"500"`
	SweepLeaseTTL  time.Duration `env:"SWEEP_LEASE_TTL" envDefault:"30s"`
	SweepQueue     string        `env:"SWEEP_QUEUE" envDefault:"inventory.sweep"`

	OutboxInterval  time.Duration `env:"OUTBOX_INTERVAL" envDefault:"5s"`
	OutboxBatchSize int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`

	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"1h"`
	RateLimitActor  int           `env:"RATE_LIMIT_ACTOR" envDefault:"60"`
	RateLimitIP     int           `env:"RATE_LIMIT_IP" envDefault:"300"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreCockroach:
		if c.CRDBDSN == "" {
			return errors.New("CRDB_DSN is required for the crdb store")
		}
	case StoreMemory:
	default:
		return errors.Newf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.CartHoldTTL <= 0 || c.PaymentPendingHoldTTL <= 0 {
		return errors.New("hold TTLs must be positive")
	}
	if c.TraceRatio < 0 || c.TraceRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1]")
	}
	if c.SweepBatchSize <= 0 {
		return errors.New("SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}
