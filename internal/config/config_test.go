package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	// Сохраняем оригинальные значения
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllVaultEnvVars очищает все переменные окружения VAULT_* для чистого теста.
func clearAllVaultEnvVars(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"VAULT_PORT", "VAULT_HOST", "VAULT_DATA_DIR", "VAULT_ENGINE",
		"VAULT_QUOTA_BYTES", "VAULT_MAX_FILE_SIZE", "VAULT_SCRATCH_LIMIT",
		"VAULT_QUOTA_CACHE_TTL", "VAULT_STATS_INTERVAL", "VAULT_RECONCILE_INTERVAL",
		"VAULT_LOG_LEVEL", "VAULT_LOG_FORMAT", "VAULT_SHUTDOWN_TIMEOUT",
	}
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"VAULT_DATA_DIR": "/tmp/vault",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cleanup := clearAllVaultEnvVars(t)
	defer cleanup()

	cleanupVars := setEnvVars(t, requiredEnvVars())
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8090 {
		t.Errorf("Port: ожидалось 8090, получено %d", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host: ожидалось '127.0.0.1', получено %q", cfg.Host)
	}
	if cfg.Engine != EngineFilestore {
		t.Errorf("Engine: ожидалось 'filestore', получено %q", cfg.Engine)
	}
	if cfg.QuotaBytes != 0 {
		t.Errorf("QuotaBytes: ожидалось 0, получено %d", cfg.QuotaBytes)
	}
	if cfg.MaxFileSize != 1073741824 {
		t.Errorf("MaxFileSize: ожидалось 1073741824, получено %d", cfg.MaxFileSize)
	}
	if cfg.ScratchLimit != 5<<20 {
		t.Errorf("ScratchLimit: ожидалось 5 MiB, получено %d", cfg.ScratchLimit)
	}
	if cfg.QuotaCacheTTL != 5*time.Second {
		t.Errorf("QuotaCacheTTL: ожидалось 5s, получено %v", cfg.QuotaCacheTTL)
	}
	if cfg.StatsInterval != 30*time.Second {
		t.Errorf("StatsInterval: ожидалось 30s, получено %v", cfg.StatsInterval)
	}
	if cfg.ReconcileInterval != 10*time.Minute {
		t.Errorf("ReconcileInterval: ожидалось 10m, получено %v", cfg.ReconcileInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat: ожидалось 'text', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 5s, получено %v", cfg.ShutdownTimeout)
	}
	if cfg.Addr() != "127.0.0.1:8090" {
		t.Errorf("Addr: получено %q", cfg.Addr())
	}
	if cfg.BaseURL() != "http://127.0.0.1:8090" {
		t.Errorf("BaseURL: получено %q", cfg.BaseURL())
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	cleanup := clearAllVaultEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["VAULT_PORT"] = "9000"
	vars["VAULT_HOST"] = "0.0.0.0"
	vars["VAULT_ENGINE"] = "sqlite"
	vars["VAULT_QUOTA_BYTES"] = "10737418240" // 10 GB
	vars["VAULT_MAX_FILE_SIZE"] = "536870912"
	vars["VAULT_SCRATCH_LIMIT"] = "1048576"
	vars["VAULT_QUOTA_CACHE_TTL"] = "0s"
	vars["VAULT_STATS_INTERVAL"] = "1m"
	vars["VAULT_RECONCILE_INTERVAL"] = "1h"
	vars["VAULT_LOG_LEVEL"] = "debug"
	vars["VAULT_LOG_FORMAT"] = "json"
	vars["VAULT_SHUTDOWN_TIMEOUT"] = "15s"

	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port: ожидалось 9000, получено %d", cfg.Port)
	}
	if cfg.DataDir != "/tmp/vault" {
		t.Errorf("DataDir: ожидалось '/tmp/vault', получено %q", cfg.DataDir)
	}
	if cfg.Engine != EngineSQLite {
		t.Errorf("Engine: ожидалось 'sqlite', получено %q", cfg.Engine)
	}
	if cfg.QuotaBytes != 10737418240 {
		t.Errorf("QuotaBytes: ожидалось 10737418240, получено %d", cfg.QuotaBytes)
	}
	if cfg.MaxFileSize != 536870912 {
		t.Errorf("MaxFileSize: ожидалось 536870912, получено %d", cfg.MaxFileSize)
	}
	if cfg.ScratchLimit != 1048576 {
		t.Errorf("ScratchLimit: ожидалось 1048576, получено %d", cfg.ScratchLimit)
	}
	if cfg.QuotaCacheTTL != 0 {
		t.Errorf("QuotaCacheTTL: ожидалось 0, получено %v", cfg.QuotaCacheTTL)
	}
	if cfg.StatsInterval != time.Minute {
		t.Errorf("StatsInterval: ожидалось 1m, получено %v", cfg.StatsInterval)
	}
	if cfg.ReconcileInterval != time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 1h, получено %v", cfg.ReconcileInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: ожидалось DEBUG, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 15s, получено %v", cfg.ShutdownTimeout)
	}
	// Ссылки на содержимое всегда указывают на loopback
	if cfg.BaseURL() != "http://127.0.0.1:9000" {
		t.Errorf("BaseURL: получено %q", cfg.BaseURL())
	}
}

func TestLoad_MissingDataDir(t *testing.T) {
	cleanup := clearAllVaultEnvVars(t)
	defer cleanup()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка при отсутствии VAULT_DATA_DIR")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"VAULT_PORT", "0"},
		{"VAULT_PORT", "70000"},
		{"VAULT_PORT", "abc"},
		{"VAULT_ENGINE", "postgres"},
		{"VAULT_QUOTA_BYTES", "-1"},
		{"VAULT_QUOTA_BYTES", "100"}, // меньше MaxFileSize по умолчанию
		{"VAULT_MAX_FILE_SIZE", "0"},
		{"VAULT_MAX_FILE_SIZE", "abc"},
		{"VAULT_SCRATCH_LIMIT", "-5"},
		{"VAULT_QUOTA_CACHE_TTL", "5"},
		{"VAULT_STATS_INTERVAL", "0s"},
		{"VAULT_RECONCILE_INTERVAL", "forever"},
		{"VAULT_LOG_LEVEL", "verbose"},
		{"VAULT_LOG_FORMAT", "xml"},
		{"VAULT_SHUTDOWN_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cleanup := clearAllVaultEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars[tt.key] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидалось %v", tt.input, got, tt.want)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{LogLevel: slog.LevelWarn, LogFormat: format}
		logger := SetupLogger(cfg)
		if logger == nil {
			t.Fatalf("SetupLogger(%s) вернул nil", format)
		}
		if logger.Enabled(t.Context(), slog.LevelInfo) {
			t.Errorf("%s: уровень INFO не должен быть включён", format)
		}
		if !logger.Enabled(t.Context(), slog.LevelWarn) {
			t.Errorf("%s: уровень WARN должен быть включён", format)
		}
	}
}
