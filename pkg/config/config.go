package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	TxMaxRetries uint64
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type Config struct {
	HTTPAddr     string
	TLSCertFile  string
	TLSKeyFile   string
	HomeCurrency string
	LogDir       string
	DB           DBConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

// Load reads path with godotenv when it exists and then the process environment.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	r := reader{}
	cfg := &Config{
		HTTPAddr:     r.str("HTTP_ADDR", ":8080"),
		TLSCertFile:  r.str("TLS_CERT_FILE", ""),
		TLSKeyFile:   r.str("TLS_KEY_FILE", ""),
		HomeCurrency: strings.ToUpper(r.str("HOME_CURRENCY", "EUR")),
		LogDir:       r.str("LOG_DIR", ""),
		DB: DBConfig{
			Host:         r.str("DB_HOST", "localhost"),
			Port:         r.int("DB_PORT", 5432),
			User:         r.str("DB_USER", "postgres"),
			Password:     r.str("DB_PASSWORD", ""),
			Name:         r.str("DB_NAME", "moneybridge"),
			SSLMode:      r.str("DB_SSLMODE", "disable"),
			MaxOpenConns: r.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: r.int("DB_MAX_IDLE_CONNS", 25),
			TxMaxRetries: uint64(r.int("DB_TX_MAX_RETRIES", 5)),
		},
		Redis: RedisConfig{
			Addr:           r.str("REDIS_ADDR", ""),
			Password:       r.str("REDIS_PASSWORD", ""),
			DB:             r.int("REDIS_DB", 0),
			IdempotencyTTL: r.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: r.str("KAFKA_BROKERS", ""),
			Topic:   r.str("KAFKA_TOPIC", "transactions"),
		},
		Outbox: OutboxConfig{
			PollInterval: r.duration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    r.int("OUTBOX_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			RPS:   r.float("RATE_LIMIT_RPS", 50),
			Burst: r.int("RATE_LIMIT_BURST", 100),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	if cfg.DB.TxMaxRetries == 0 {
		return nil, fmt.Errorf("invalid DB_TX_MAX_RETRIES: must be positive")
	}
	return cfg, nil
}

// DSN builds the lib/pq keyword connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Redact returns a copy safe to log.
func (c Config) Redact() Config {
	if c.DB.Password != "" {
		c.DB.Password = "****"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "****"
	}
	return c
}

// reader keeps the first parse error so Load can report it once.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}
