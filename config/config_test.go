package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "TOKEN_TTL", "STORAGE_BACKEND", "MQ_BACKEND", "MAX_PHOTO_BYTES", "ADMIN_PASSWORD", "ENV"} {
		t.Setenv(key, "")
	}
	t.Setenv("SERVER_PORT", "3001")
	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("MQ_BACKEND", "none")

	cfg := LoadConfig()

	assert.Equal(t, 3001, cfg.ServerPort)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "none", cfg.MQ.Backend)
	assert.Equal(t, "observach.submissions", cfg.MQ.Channel)
	assert.Equal(t, int64(8<<20), cfg.MaxPhotoBytes)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("MQ_BACKEND", "NATS")
	t.Setenv("DB_USE_SSL", "yes")
	t.Setenv("MAX_PHOTO_BYTES", "1024")
	t.Setenv("JWT_SECRET", "  s3cret  ")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "nats", cfg.MQ.Backend)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, int64(1024), cfg.MaxPhotoBytes)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("TOKEN_TTL", "forever")
	assert.Equal(t, 7*24*time.Hour, LoadConfig().TokenTTL)
}
