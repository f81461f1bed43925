package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Hub            HubConfig
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	TTL      time.Duration
}

// HubConfig controls room membership and routing policy.
type HubConfig struct {
	// MaxRoomSize caps the members of a single room. Zero means unlimited.
	MaxRoomSize int
	// EnforceRoomScope drops directed messages whose recipient is not in
	// the sender's room.
	EnforceRoomScope bool
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		// Empty disables the bearer token gate on the signaling endpoint.
		JWTSecret: getEnv("JWT_SECRET", ""),
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      24 * time.Hour,
		},
		Hub: HubConfig{
			MaxRoomSize:      getEnvInt("MAX_ROOM_SIZE", 0),
			EnforceRoomScope: getEnvBool("ENFORCE_ROOM_SCOPE", true),
			SendBuffer:       getEnvInt("SEND_BUFFER", 256),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
