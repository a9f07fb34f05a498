package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseDSN   string // empty disables the quiz/result store
	RedisAddr     string // empty falls back to the in-process pin registry
	RedisPassword string
	RedisDB       int

	PinAttempts int
	PinTTL      time.Duration

	RevealMs    int64
	IdleTimeout time.Duration

	ScoringSpeedWeight float64
	ScoringMinFactor   float64
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:          getEnv("ADDR", ":8080"),
		DatabaseDSN:   getEnv("DATABASE_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		PinAttempts: getEnvAsInt("PIN_ATTEMPTS", 10),
		PinTTL:      time.Duration(getEnvAsInt("PIN_TTL_HOURS", 24)) * time.Hour,

		RevealMs:    int64(getEnvAsInt("REVEAL_MS", 5000)),
		IdleTimeout: time.Duration(getEnvAsInt("IDLE_TIMEOUT_SEC", 300)) * time.Second,

		ScoringSpeedWeight: getEnvAsFloat("SCORING_SPEED_WEIGHT", 0.5),
		ScoringMinFactor:   getEnvAsFloat("SCORING_MIN_FACTOR", 0.5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}
