package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver string
	DBDSN    string

	// RedisAddr empty disables idempotency keys and the sweeper lock.
	RedisAddr string

	Notifier     string
	KafkaBrokers []string
	KafkaTopic   string
	RedisChannel string

	PaymentProviderURL     string
	PaymentProviderSecret  string
	PaymentProviderTimeout time.Duration
	PaymentWindow          time.Duration

	ShippingFee           int64
	FreeShippingThreshold int64
	LowStockThreshold     int

	SweepInterval time.Duration
	SweepWorkers  int
	SweepBatch    int

	LogLevel slog.Level
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:              getEnv("GRPC_ADDR", ":50051"),
		DBDriver:              getEnv("DB_DRIVER", "mysql"),
		DBDSN:                 getEnv("DB_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true&loc=UTC"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		Notifier:              getEnv("NOTIFIER", "log"),
		KafkaBrokers:          splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "storefront.order-events"),
		RedisChannel:          getEnv("REDIS_CHANNEL", "storefront:order-events"),
		PaymentProviderURL:    getEnv("PAYMENT_PROVIDER_URL", "http://localhost:9090"),
		PaymentProviderSecret: os.Getenv("PAYMENT_PROVIDER_SECRET"),
	}

	var err error
	if cfg.PaymentProviderTimeout, err = getDuration("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PaymentWindow, err = getDuration("PAYMENT_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShippingFee, err = getInt64("SHIPPING_FEE", 30_000); err != nil {
		return nil, err
	}
	if cfg.FreeShippingThreshold, err = getInt64("FREE_SHIPPING_THRESHOLD", 0); err != nil {
		return nil, err
	}

	lowStock, err := getInt64("LOW_STOCK_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	cfg.LowStockThreshold = int(lowStock)

	workers, err := getInt64("SWEEP_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	cfg.SweepWorkers = int(workers)

	batch, err := getInt64("SWEEP_BATCH", 100)
	if err != nil {
		return nil, err
	}
	cfg.SweepBatch = int(batch)

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "pgx", "sqlite3":
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver)
	}
	switch c.Notifier {
	case "log", "redis", "kafka":
	default:
		return fmt.Errorf("NOTIFIER: unsupported notifier %q", c.Notifier)
	}
	if c.Notifier == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("NOTIFIER=redis requires REDIS_ADDR")
	}
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("PAYMENT_WINDOW must be positive")
	}
	if c.SweepWorkers <= 0 || c.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_WORKERS and SWEEP_BATCH must be positive")
	}
	if c.ShippingFee < 0 || c.FreeShippingThreshold < 0 || c.LowStockThreshold < 0 {
		return fmt.Errorf("fees and thresholds must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
