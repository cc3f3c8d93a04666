// Пакет config читает настройки сервисов из окружения и файла .env
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config: настройки HTTP API
type Config struct {
	AppEnv         string `env:"APP_ENV" envDefault:"production"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations/postgres"`

	DBHost       string `env:"DB_HOST" envDefault:"localhost"`
	DBPort       int    `env:"DB_PORT" envDefault:"5432"`
	DBUser       string `env:"DB_USER" envDefault:"postgres"`
	DBPassword   string `env:"DB_PASSWORD"`
	DBName       string `env:"DB_NAME" envDefault:"appdb"`
	DBTxRetries  int    `env:"DB_TX_RETRIES" envDefault:"3"`

	RedisAddr string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisTTL  time.Duration `env:"REDIS_TTL" envDefault:"1m"`

	NATSURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"investments"`

	JWTSecret string `env:"JWT_SECRET,required"`
}

// ConsumerConfig: настройки консьюмера журнала распределения
type ConsumerConfig struct {
	AppEnv         string `env:"APP_ENV" envDefault:"production"`
	NATSURL        string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject    string `env:"NATS_SUBJECT" envDefault:"investments"`
	ClickhouseDSN  string `env:"CLICKHOUSE_DSN" envDefault:"tcp://localhost:9000?database=default"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations/clickhouse"`
	BatchSize      int    `env:"BATCH_SIZE" envDefault:"10"`
	Port           string `env:"CONSUMER_PORT" envDefault:"8081"`
}

// PostgresDSN собирает строку подключения для lib/pq
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Load читает .env (если файл есть) и окружение в Config
func Load() (Config, error) {
	var cfg Config
	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.DBTxRetries < 1 {
		return cfg, fmt.Errorf("DB_TX_RETRIES must be positive, got %d", cfg.DBTxRetries)
	}
	return cfg, nil
}

// LoadConsumer читает .env (если файл есть) и окружение в ConsumerConfig
func LoadConsumer() (ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.BatchSize < 1 {
		return cfg, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	return cfg, nil
}

// ParseEnv заполняет target из переменных окружения по тегам env
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// loadDotEnv не переопределяет уже заданные переменные; отсутствие файла не ошибка
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
