package app

import (
	"os"
	"strings"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// ZincToken — client token провайдера (basic auth).
	ZincToken string
	// ZincBaseURL переопределяет адрес API провайдера (для тестов/стейджинга).
	ZincBaseURL string

	// PublicBaseURL — внешний адрес сервиса; из него строится URL
	// intake-эндпоинта, передаваемый провайдеру в webhooks-блоках.
	PublicBaseURL string

	// KafkaBrokers — список брокеров через запятую; пустая строка
	// отключает публикацию событий.
	KafkaBrokers string
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
	}
}

// ConfigFromEnv собирает конфигурацию из переменных окружения поверх
// значений по умолчанию. Непустой DATABASE_DSN переключает хранилище
// на postgres, если драйвер не задан явно.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.PostgresDSN = v
		cfg.StorageDriver = StorageDriverPostgres
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v := os.Getenv("POSTGRES_AUTO_MIGRATE"); v != "" {
		cfg.PostgresAutoMigrate = v == "true" || v == "1"
	}
	cfg.ZincToken = os.Getenv("ZINC_CLIENT_TOKEN")
	cfg.ZincBaseURL = os.Getenv("ZINC_BASE_URL")
	cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")

	return cfg
}

// WebhookURL возвращает адрес intake-эндпоинта для провайдера.
func (c Config) WebhookURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/webhooks/zinc"
}
