// Пакет config — загрузка и валидация конфигурации демонстрационного
// сервиса заметок из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Пул соединений ---

	// Минимальное число соединений пула
	PoolMinConns int
	// Максимальное число соединений пула
	PoolMaxConns int
	// Максимальное ожидание соединения из пула
	AcquireTimeout time.Duration
	// Тайм-аут выполнения одного запроса
	ExecTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FD_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	// FD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// FD_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FD_DB_HOST")
	if err != nil {
		return nil, err
	}

	// FD_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("FD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FD_DB_PORT: %w", err)
	}

	// FD_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("FD_DB_NAME")
	if err != nil {
		return nil, err
	}

	// FD_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("FD_DB_USER")
	if err != nil {
		return nil, err
	}

	// FD_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("FD_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// FD_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Пул соединений ---

	// FD_POOL_MIN_CONNS — минимальное число соединений (по умолчанию 2)
	cfg.PoolMinConns, err = getEnvInt("FD_POOL_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("FD_POOL_MIN_CONNS: %w", err)
	}

	// FD_POOL_MAX_CONNS — максимальное число соединений (по умолчанию 10)
	cfg.PoolMaxConns, err = getEnvInt("FD_POOL_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("FD_POOL_MAX_CONNS: %w", err)
	}
	if cfg.PoolMaxConns < 1 {
		return nil, fmt.Errorf("FD_POOL_MAX_CONNS: значение %d должно быть >= 1", cfg.PoolMaxConns)
	}
	if cfg.PoolMinConns < 0 || cfg.PoolMinConns > cfg.PoolMaxConns {
		return nil, fmt.Errorf("FD_POOL_MIN_CONNS: значение %d вне допустимого диапазона 0-%d", cfg.PoolMinConns, cfg.PoolMaxConns)
	}

	// FD_ACQUIRE_TIMEOUT — ожидание соединения из пула (по умолчанию 30s)
	cfg.AcquireTimeout, err = getEnvDuration("FD_ACQUIRE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_ACQUIRE_TIMEOUT: %w", err)
	}

	// FD_EXEC_TIMEOUT — тайм-аут выполнения запроса (по умолчанию 30s)
	cfg.ExecTimeout, err = getEnvDuration("FD_EXEC_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_EXEC_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// FD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
