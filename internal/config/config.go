// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the Chance services. Each binary picks
// the fields it needs.
type Config struct {
	HTTPAddr    string        // matchapi listen address
	WSAddr      string        // wsrelay listen address
	RedisAddr   string        // host:port of the shared Redis
	PostgresDSN string        // DSN for the session/directory database
	NATSURL     string        // URL of the NATS relay
	ServerName  string        // identifier for this instance
	MatchWindow time.Duration // candidate window for the matchmaker

	WorkerPoolSize int           // wsrelay read workers
	MaxConnections int           // wsrelay connection cap
	ReadTimeout    time.Duration // wsrelay frame read deadline
	WriteTimeout   time.Duration // wsrelay frame write deadline

	GeminiAPIKey string // icebreaker generator; fallback starters when empty
}

// Load reads configuration from the environment. A missing .env file is not
// an error; production deployments set real environment variables.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file found, relying on environment variables")
	}

	serverName := getEnv("SERVER_NAME", "")
	if serverName == "" {
		serverName, _ = os.Hostname()
	}

	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8081"),
		WSAddr:      getEnv("WS_ADDR", ":8080"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/chance?sslmode=disable"),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		ServerName:  serverName,
		MatchWindow: getEnvAsDuration("MATCH_WINDOW", 30*time.Second),

		WorkerPoolSize: getEnvAsInt("WORKER_POOL_SIZE", 256),
		MaxConnections: getEnvAsInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 10*time.Second),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
