// Пакет config — загрузка и валидация конфигурации медиа-хранилища
// из переменных окружения (префикс VAULT_).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Движки хранилища объектов.
const (
	EngineFilestore = "filestore"
	EngineSQLite    = "sqlite"
	EngineMemory    = "memory"
)

// Config содержит все параметры конфигурации медиа-хранилища.
type Config struct {
	// Порт HTTP-моста
	Port int
	// Адрес прослушивания (по умолчанию только loopback)
	Host string
	// Корневая директория данных
	DataDir string
	// Движок хранилища объектов (filestore, sqlite, memory)
	Engine string
	// Квота в байтах; 0 — ограничена только диском
	QuotaBytes int64
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Лимит scratch-хранилища в байтах
	ScratchLimit int64
	// Время жизни кэша оценки квоты; 0 — без кэша
	QuotaCacheTTL time.Duration
	// Период обновления статистики
	StatsInterval time.Duration
	// Интервал автоматической сверки
	ReconcileInterval time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Addr возвращает адрес прослушивания HTTP-моста.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL возвращает базовый URL для ссылок на содержимое.
func (c *Config) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку. Если в рабочей
// директории есть файл .env, его значения загружаются первыми
// (уже заданные переменные окружения не перекрываются).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env: %w", err)
	}

	cfg := &Config{}

	// VAULT_PORT — порт HTTP-моста (по умолчанию 8090)
	port, err := getEnvInt("VAULT_PORT", 8090)
	if err != nil {
		return nil, fmt.Errorf("VAULT_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("VAULT_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.Host = getEnvDefault("VAULT_HOST", "127.0.0.1")

	// VAULT_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("VAULT_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// VAULT_ENGINE — движок хранилища (по умолчанию filestore)
	cfg.Engine = getEnvDefault("VAULT_ENGINE", EngineFilestore)
	switch cfg.Engine {
	case EngineFilestore, EngineSQLite, EngineMemory:
	default:
		return nil, fmt.Errorf("VAULT_ENGINE: недопустимое значение %q, допустимые: filestore, sqlite, memory", cfg.Engine)
	}

	// VAULT_QUOTA_BYTES — квота (по умолчанию 0, ограничена диском)
	cfg.QuotaBytes, err = getEnvInt64("VAULT_QUOTA_BYTES", 0)
	if err != nil {
		return nil, fmt.Errorf("VAULT_QUOTA_BYTES: %w", err)
	}
	if cfg.QuotaBytes < 0 {
		return nil, fmt.Errorf("VAULT_QUOTA_BYTES: значение не может быть отрицательным")
	}

	// VAULT_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("VAULT_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("VAULT_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("VAULT_MAX_FILE_SIZE: значение должно быть положительным")
	}
	if cfg.QuotaBytes > 0 && cfg.QuotaBytes < cfg.MaxFileSize {
		return nil, fmt.Errorf("VAULT_QUOTA_BYTES: значение %d должно быть >= VAULT_MAX_FILE_SIZE (%d)",
			cfg.QuotaBytes, cfg.MaxFileSize)
	}

	// VAULT_SCRATCH_LIMIT — лимит scratch-хранилища (по умолчанию 5 MB)
	cfg.ScratchLimit, err = getEnvInt64("VAULT_SCRATCH_LIMIT", 5<<20)
	if err != nil {
		return nil, fmt.Errorf("VAULT_SCRATCH_LIMIT: %w", err)
	}
	if cfg.ScratchLimit <= 0 {
		return nil, fmt.Errorf("VAULT_SCRATCH_LIMIT: значение должно быть положительным")
	}

	cfg.QuotaCacheTTL, err = getEnvDuration("VAULT_QUOTA_CACHE_TTL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VAULT_QUOTA_CACHE_TTL: %w", err)
	}

	cfg.StatsInterval, err = getEnvDuration("VAULT_STATS_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VAULT_STATS_INTERVAL: %w", err)
	}
	if cfg.StatsInterval <= 0 {
		return nil, fmt.Errorf("VAULT_STATS_INTERVAL: значение должно быть положительным")
	}

	// VAULT_RECONCILE_INTERVAL — интервал сверки (по умолчанию 10m)
	cfg.ReconcileInterval, err = getEnvDuration("VAULT_RECONCILE_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("VAULT_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("VAULT_RECONCILE_INTERVAL: значение должно быть положительным")
	}

	// VAULT_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("VAULT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("VAULT_LOG_LEVEL: %w", err)
	}

	// VAULT_LOG_FORMAT — формат логов (по умолчанию text)
	cfg.LogFormat = getEnvDefault("VAULT_LOG_FORMAT", "text")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("VAULT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("VAULT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VAULT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Формат text пишет в stderr через tint; цвет включается только для терминала.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := slog.New(newHandler(cfg, os.Stderr))
	slog.SetDefault(logger)
	return logger
}

func newHandler(cfg *Config, out *os.File) slog.Handler {
	if cfg.LogFormat == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
	}
	var w io.Writer = out
	if isatty.IsTerminal(out.Fd()) {
		w = colorable.NewColorable(out)
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(out.Fd()),
	})
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 5s, 30s, 10m)", val)
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
