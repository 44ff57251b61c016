package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN            string
	HTTPAddr         string
	RedisAddr        string
	JWTSecret        string
	TelegramToken    string
	MigrationsPath   string
	BackfillInterval time.Duration
	Environment      string
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	// Читаем напрямую из переменных окружения (после godotenv.Load они там)
	cfg := &Config{
		DBDSN:          os.Getenv("DB_DSN"),
		HTTPAddr:       os.Getenv("HTTP_ADDR"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
		Environment:    os.Getenv("ENV"),
	}

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}
	cfg.BackfillInterval = 5 * time.Minute
	if raw := os.Getenv("BACKFILL_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("BACKFILL_INTERVAL is invalid: %w", err)
		}
		cfg.BackfillInterval = interval
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set")
	}

	log.Printf("Config loaded\n")

	return cfg, nil
}
