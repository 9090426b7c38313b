package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORAGE_DRIVER", StorageDriverMemory)
	t.Setenv("PAYMENT_PROVIDER", PaymentProviderSandbox)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("PAYMENT_CALLBACK_SECRET", "")
	t.Setenv("MODERATION_REQUIRED", "true")
	t.Setenv("CALLBACK_WINDOW", "90s")
	t.Setenv("SETTLEMENT_CEILING", "5m")
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	envFile := setBaseEnv(t)

	cfg, err := LoadFrom(envFile)
	require.NoError(t, err)

	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:3001"}, cfg.AllowedOrigins)
	assert.Equal(t, PaymentProviderSandbox, cfg.Payment.Provider)
	assert.NotEmpty(t, cfg.Payment.CallbackSecret)
	assert.Equal(t, 90*time.Second, cfg.Worker.CallbackWindow)
	assert.Equal(t, 5*time.Minute, cfg.Worker.SettlementCeiling)
}

func TestLoad_ParsesOverrides(t *testing.T) {
	envFile := setBaseEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example, https://admin.example ,")
	t.Setenv("MODERATION_REQUIRED", "false")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("CALLBACK_WINDOW", "30s")
	t.Setenv("SETTLEMENT_CEILING", "2m")
	t.Setenv("PAYMENT_PROVIDER", "HTTP")
	t.Setenv("PAYMENT_PROVIDER_URL", "https://mm.example/api")

	cfg, err := LoadFrom(envFile)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.ModerationRequired)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Worker.CallbackWindow)
	assert.Equal(t, PaymentProviderHTTP, cfg.Payment.Provider)
	assert.Equal(t, "https://mm.example/api", cfg.Payment.BaseURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"неизвестное хранилище", map[string]string{"STORAGE_DRIVER": "mongo"}},
		{"неизвестный провайдер", map[string]string{"PAYMENT_PROVIDER": "paypal"}},
		{"http без адреса", map[string]string{"PAYMENT_PROVIDER": "http", "PAYMENT_PROVIDER_URL": ""}},
		{"окно больше предела", map[string]string{"CALLBACK_WINDOW": "10m", "SETTLEMENT_CEILING": "5m"}},
		{"production с памятью", map[string]string{"APP_ENV": "production"}},
		{"production с коротким секретом", map[string]string{
			"APP_ENV": "production", "STORAGE_DRIVER": "postgres", "JWT_SECRET": "short",
		}},
		{"production с песочницей", map[string]string{
			"APP_ENV": "production", "STORAGE_DRIVER": "postgres",
			"JWT_SECRET": "a-production-secret-that-is-long-enough", "CORS_ALLOWED_ORIGINS": "https://app.example",
		}},
		{"production без секрета уведомлений", map[string]string{
			"APP_ENV": "production", "STORAGE_DRIVER": "postgres",
			"JWT_SECRET": "a-production-secret-that-is-long-enough", "CORS_ALLOWED_ORIGINS": "https://app.example",
			"PAYMENT_PROVIDER": "http", "PAYMENT_PROVIDER_URL": "https://mm.example/api",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envFile := setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(envFile)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ProductionAccepted(t *testing.T) {
	envFile := setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("JWT_SECRET", "a-production-secret-that-is-long-enough")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example")
	t.Setenv("PAYMENT_PROVIDER", "http")
	t.Setenv("PAYMENT_PROVIDER_URL", "https://mm.example/api")
	t.Setenv("PAYMENT_CALLBACK_SECRET", "shared-with-provider")

	cfg, err := LoadFrom(envFile)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "shared-with-provider", cfg.Payment.CallbackSecret)
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	setBaseEnv(t)
	// Переменная регистрируется для восстановления и снимается, чтобы файл мог её задать.
	t.Setenv("HTTP_PORT", "")
	require.NoError(t, os.Unsetenv("HTTP_PORT"))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("HTTP_PORT=9191\n"), 0o600))

	cfg, err := LoadFrom(envFile)
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.HTTPPort)
}

func TestGetDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRESQL_HOST", "db")
	t.Setenv("POSTGRESQL_PORT", "6432")
	t.Setenv("POSTGRESQL_USER", "escrow")
	t.Setenv("POSTGRESQL_PASSWORD", "p@ss")
	t.Setenv("POSTGRESQL_DBNAME", "escrow")

	assert.Equal(t, "postgres://escrow:p%40ss@db:6432/escrow?sslmode=disable", getDatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://override")
	assert.Equal(t, "postgres://override", getDatabaseURL())
}
