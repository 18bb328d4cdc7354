// Пакет config — загрузка и валидация конфигурации radadmin
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации radadmin.
type Config struct {
	// --- Логирование ---

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL (схема FreeRADIUS) ---

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
	// Максимальный размер пула соединений (0 — значение pgxpool по умолчанию)
	DBMaxConns int
	// Применять ли миграции схемы при старте
	Migrate bool

	// --- Кэш агрегатов ---

	// TTL кэша агрегированных счётчиков (0 — кэш отключён)
	StatsCacheTTL time.Duration
	// Максимальное количество записей в кэше агрегатов
	StatsCacheSize int
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Логирование ---

	// RA_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("RA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("RA_LOG_LEVEL: %w", err)
	}

	// RA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("RA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("RA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// RA_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("RA_DB_HOST")
	if err != nil {
		return nil, err
	}

	// RA_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("RA_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("RA_DB_PORT: %w", err)
	}
	if cfg.DBPort < 1 || cfg.DBPort > 65535 {
		return nil, fmt.Errorf("RA_DB_PORT: значение %d вне допустимого диапазона 1-65535", cfg.DBPort)
	}

	// RA_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("RA_DB_NAME")
	if err != nil {
		return nil, err
	}

	// RA_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("RA_DB_USER")
	if err != nil {
		return nil, err
	}

	// RA_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("RA_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// RA_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("RA_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("RA_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// RA_DB_MAX_CONNS — размер пула (по умолчанию 0 — решает pgxpool)
	cfg.DBMaxConns, err = getEnvInt("RA_DB_MAX_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("RA_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 0 {
		return nil, fmt.Errorf("RA_DB_MAX_CONNS: отрицательное значение %d", cfg.DBMaxConns)
	}

	// RA_MIGRATE — применять миграции (по умолчанию true)
	cfg.Migrate, err = getEnvBool("RA_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("RA_MIGRATE: %w", err)
	}

	// --- Кэш агрегатов ---

	// RA_STATS_CACHE_TTL — TTL кэша счётчиков (по умолчанию 10s)
	cfg.StatsCacheTTL, err = getEnvDuration("RA_STATS_CACHE_TTL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("RA_STATS_CACHE_TTL: %w", err)
	}
	if cfg.StatsCacheTTL < 0 {
		return nil, fmt.Errorf("RA_STATS_CACHE_TTL: отрицательная длительность %s", cfg.StatsCacheTTL)
	}

	// RA_STATS_CACHE_SIZE — размер кэша счётчиков (по умолчанию 16)
	cfg.StatsCacheSize, err = getEnvInt("RA_STATS_CACHE_SIZE", 16)
	if err != nil {
		return nil, fmt.Errorf("RA_STATS_CACHE_SIZE: %w", err)
	}
	// Кэш хранит две записи: сводку пользователей и количество групп
	if cfg.StatsCacheSize < 2 || cfg.StatsCacheSize > 1024 {
		return nil, fmt.Errorf("RA_STATS_CACHE_SIZE: значение %d вне допустимого диапазона 2-1024", cfg.StatsCacheSize)
	}

	return cfg, nil
}

// DatabaseDSN возвращает URL подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return c.databaseURL("postgres")
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.databaseURL("pgx5")
}

// databaseURL собирает URL подключения. Имя пользователя, пароль и имя БД
// экранируются, поэтому допустимы любые символы.
func (c *Config) databaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
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
