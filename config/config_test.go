package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ALLOWED_ORIGINS", "JWT_SECRET", "REDIS_ENABLED", "MAX_ROOM_SIZE", "ENFORCE_ROOM_SCOPE", "SEND_BUFFER"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.JWTSecret)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 0, cfg.Hub.MaxRoomSize)
	assert.True(t, cfg.Hub.EnforceRoomScope)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MAX_ROOM_SIZE", "4")
	t.Setenv("ENFORCE_ROOM_SCOPE", "false")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 4, cfg.Hub.MaxRoomSize)
	assert.False(t, cfg.Hub.EnforceRoomScope)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_ROOM_SIZE", "lots")
	t.Setenv("ENFORCE_ROOM_SCOPE", "maybe")

	cfg := Load()

	assert.Equal(t, 0, cfg.Hub.MaxRoomSize)
	assert.True(t, cfg.Hub.EnforceRoomScope)
}
