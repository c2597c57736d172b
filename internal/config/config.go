package config

import (
	"context"
	"os"
	"strconv"
	"sync"
)

// Config holds application configuration from environment.
type Config struct {
	HTTPPort         string
	DatabaseURL      string // sqlite path or postgres:// URL; empty = ./data/taskhub.db
	DBPoolSize       int
	SecretKey        string // signs session tokens
	SessionTTLHours  int
	RedisURL         string // optional: list cache + cross-replica event bridge
	RedisPoolSize    int
	CacheTTL         int // seconds
	KafkaBrokers     []string
	KafkaTopic       string
	KafkaPartitions  int
	PingInterval     int // seconds between SSE keep-alive pings
	DueCheckInterval int // seconds between overdue scans; 0 disables
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Get returns the application config (loads once from env).
func Get() *Config {
	cfgOnce.Do(func() {
		cfg = &Config{
			HTTPPort:         getEnv("HTTP_PORT", "8080"),
			DatabaseURL:      getEnv("DATABASE_URL", "data/taskhub.db"),
			DBPoolSize:       getIntEnv("DB_POOL_SIZE", 25),
			SecretKey:        os.Getenv("SECRET_KEY"),
			SessionTTLHours:  getIntEnv("SESSION_TTL_HOURS", 24*30),
			RedisURL:         os.Getenv("REDIS_URL"),
			RedisPoolSize:    getIntEnv("REDIS_POOL_SIZE", 100),
			CacheTTL:         getIntEnv("CACHE_TTL_SEC", 300),
			KafkaBrokers:     getSliceEnv("KAFKA_BROKERS", ""),
			KafkaTopic:       getEnv("KAFKA_EVENTS_TOPIC", "taskhub-events"),
			KafkaPartitions:  getIntEnv("KAFKA_PARTITIONS", 4),
			PingInterval:     getIntEnv("PING_INTERVAL_SEC", 25),
			DueCheckInterval: getIntEnv("DUE_CHECK_INTERVAL_SEC", 60),
		}
	})
	return cfg
}

// GetSecretKey returns the session signing secret (for middleware that only has context).
func GetSecretKey(ctx context.Context) string {
	return Get().SecretKey
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getSliceEnv(key, defaultVal string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = defaultVal
	}
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range splitTrim(v, ",") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitTrim(s, sep string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s)-len(sep); i++ {
		if s[i:i+len(sep)] == sep {
			out = append(out, trim(s[start:i]))
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	out = append(out, trim(s[start:]))
	return out
}

func trim(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}
