package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewIngestRulesHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// NodeID seeds snowflake ids; processes writing to the same database need distinct values.
	NodeID int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit RateLimitConfig
	Ingest    IngestConfig
	Activity  ActivityConfig
	JobPush   JobPushConfig
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BulkIngestOrgRate       float64
	BulkIngestOrgBurst      int
	BulkIngestEndpointRate  float64
	BulkIngestEndpointBurst int
}

// IngestConfig bounds a single batch.
type IngestConfig struct {
	MaxItems         int
	ChunkSize        int
	TxTimeout        time.Duration
	ResolverCacheTTL time.Duration
}

// JobPushConfig points batch jobs (the dataset loader) at a Pushgateway or remote_write endpoint.
type JobPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Job       string
}

// ActivityConfig controls the activity stream heartbeat.
type ActivityConfig struct {
	HeartbeatInterval time.Duration
	MaxMissed         int
	SubscriberBuffer  int
	// AllowedOrigins are host patterns accepted on cross-origin websocket upgrades.
	AllowedOrigins []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "cloudunify"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cloudunify"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "cloudunify.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RateLimit: RateLimitConfig{
			Enabled:                 getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:               strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:           getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:                 getenvInt("RATE_LIMIT_REDIS_DB", 0),
			BulkIngestOrgRate:       getenvFloat("RATE_LIMIT_BULK_ORG_RATE", 5),
			BulkIngestOrgBurst:      getenvInt("RATE_LIMIT_BULK_ORG_BURST", 10),
			BulkIngestEndpointRate:  getenvFloat("RATE_LIMIT_BULK_ENDPOINT_RATE", 50),
			BulkIngestEndpointBurst: getenvInt("RATE_LIMIT_BULK_ENDPOINT_BURST", 100),
		},
		Ingest: IngestConfig{
			MaxItems:         getenvInt("INGEST_MAX_ITEMS", 5000),
			ChunkSize:        getenvInt("INGEST_CHUNK_SIZE", 500),
			TxTimeout:        getenvDuration("INGEST_TX_TIMEOUT", 30*time.Second),
			ResolverCacheTTL: getenvDuration("INGEST_RESOLVER_CACHE_TTL", 5*time.Minute),
		},
		JobPush: JobPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("JOB_METRICS_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("JOB_METRICS_ENDPOINT", "")),
			AuthToken: getenv("JOB_METRICS_AUTH_TOKEN", ""),
			Job:       getenv("JOB_METRICS_JOB", "cloudunify_ingest_datasets"),
		},
		Activity: ActivityConfig{
			HeartbeatInterval: getenvDuration("ACTIVITY_HEARTBEAT_INTERVAL", 25*time.Second),
			MaxMissed:         getenvInt("ACTIVITY_MAX_MISSED_HEARTBEATS", 3),
			SubscriberBuffer:  getenvInt("ACTIVITY_SUBSCRIBER_BUFFER", 32),
			AllowedOrigins:    getenvList("ACTIVITY_ALLOWED_ORIGINS"),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

// getenvDuration accepts Go durations ("30s") or plain seconds ("30").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
