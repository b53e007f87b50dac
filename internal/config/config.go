package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the whole application configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Sync      SyncConfig
}

// ServerConfig HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Env          string
}

// WebSocketConfig websocket buffer/timeout settings.
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// CORSConfig CORS settings.
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig token verification settings.
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// RedisConfig presence backend settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SyncConfig tuning for the sync core: how often coalesced patches may hit
// the store and how often presence may be rewritten.
type SyncConfig struct {
	CommitMinInterval       time.Duration
	PresencePublishInterval time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("JWT_SECRET must be changed from its default value")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			Env:          getEnv("APP_ENV", "development"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 4096),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Sync: SyncConfig{
			CommitMinInterval:       getDuration("SYNC_COMMIT_MIN_INTERVAL", 100*time.Millisecond),
			PresencePublishInterval: getDuration("SYNC_PRESENCE_PUBLISH_INTERVAL", 30*time.Millisecond),
		},
	}
}

// getRequiredEnv fetches a required variable or exits.
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("required environment variable %s is not set", key)
	}
	return value
}

// getEnv fetches a variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt fetches an integer variable.
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDuration fetches a duration variable. Bare numbers are seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smhu") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
