// Package config содержит логику чтения конфигурации сервиса учёта долгов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultConfirmCode = "121"
	defaultLogLevel    = "info"
)

// Config содержит параметры конфигурации сервиса учёта долгов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	// SecretKey подписывает cookie сессии администратора. Пустой ключ заменяется случайным.
	SecretKey string `env:"SECRET_KEY"`
	// ConfirmCode запрашивается перед изменением и удалением клиента.
	ConfirmCode string `env:"CONFIRM_CODE"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SecretKey, "s", "", "session signing key")
	flag.StringVar(&cfg.ConfirmCode, "c", defaultConfirmCode, "confirmation code for customer edit and delete")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.SecretKey, fromEnv.SecretKey)
	override(&cfg.ConfirmCode, fromEnv.ConfirmCode)
	override(&cfg.LogLevel, fromEnv.LogLevel)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.ConfirmCode == "" {
		cfg.ConfirmCode = defaultConfirmCode
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required")
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
