package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Broker    BrokerConfig
	RateLimit RateLimitConfig
	Engine    EngineConfig
	Session   SessionConfig
	Worker    WorkerConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

type BrokerConfig struct {
	HeartbeatInterval time.Duration
	ReplayCapacity    int
	SubscriberBuffer  int
}

// RateLimitConfig 限流配置。Mode 为 "enforce" 时拒绝超限请求，
// "log" 时只记录不拒绝。
type RateLimitConfig struct {
	Window time.Duration
	Quota  int
	Mode   string
}

type EngineConfig struct {
	Addr             string
	StreamingEnabled bool
	RequestTimeout   time.Duration
}

type SessionConfig struct {
	Retention     time.Duration // 终态 session 在内存表中的保留时间
	SweepInterval time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "inkwell"),
		},
		Broker: BrokerConfig{
			HeartbeatInterval: getDurationEnv("BROKER_HEARTBEAT_INTERVAL", 15*time.Second),
			ReplayCapacity:    getIntEnv("BROKER_REPLAY_CAPACITY", 256),
			SubscriberBuffer:  getIntEnv("BROKER_SUBSCRIBER_BUFFER", 64),
		},
		RateLimit: RateLimitConfig{
			Window: getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second),
			Quota:  getIntEnv("RATE_LIMIT_QUOTA", 5),
			Mode:   getEnv("RATE_LIMIT_MODE", "enforce"),
		},
		Engine: EngineConfig{
			Addr:             getEnv("ENGINE_ADDR", "localhost:50051"),
			StreamingEnabled: getBoolEnv("ENGINE_STREAMING_ENABLED", true),
			RequestTimeout:   getDurationEnv("ENGINE_REQUEST_TIMEOUT", 120*time.Second),
		},
		Session: SessionConfig{
			Retention:     getDurationEnv("SESSION_RETENTION", 10*time.Minute),
			SweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
