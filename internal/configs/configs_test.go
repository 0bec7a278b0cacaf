package configs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(strings.ToUpper(key), "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 4, cfg.PowDifficulty)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.DatabaseDSN)
	assert.False(t, cfg.StorageEnabled())
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("POW_DIFFICULTY", "0")

	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, StoreDriverMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, 0, cfg.PowDifficulty)
}

func TestConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yaml := "port: 7000\ninstance_id: node-a\nredis_url: redis://localhost:6379/0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigName+".yaml"), []byte(yaml), 0o600))

	t.Setenv("PORT", "7001")

	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Port, "environment wins over the file")
	assert.Equal(t, "node-a", cfg.InstanceID)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"privileged port":    {"PORT": "80"},
		"unknown driver":     {"STORE_DRIVER": "sqlite"},
		"memory in prod":     {"STORE_DRIVER": "memory", "ENVIRONMENT": "production", "JWT_SECRET": "x"},
		"half s3":            {"S3_BUCKET_NAME": "bucket"},
		"s3 without keys":    {"S3_BUCKET_NAME": "bucket", "S3_ENDPOINT": "http://minio:9000"},
		"difficulty too big": {"POW_DIFFICULTY": "12"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := load(t.TempDir())
			assert.Error(t, err)
		})
	}
}
