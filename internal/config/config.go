package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port           string
	Host           string
	AllowedOrigins []string // empty allows any origin
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type DBConfig struct {
	Type        string // "postgres", "sqlite", "mongodb", "dynamodb", "firestore"
	PostgresDSN string
	SQLitePath  string
	MongoURI    string
	MongoDBName string
	// Dynamo credentials handled by AWS SDK (env vars, shared config, IAM role)
	DynamoRegion         string
	DynamoTable          string
	FirestoreProjectID   string
	FirestoreCredentials string // Path to service account JSON file
}

type StorageConfig struct {
	Type           string // "s3" or "none"
	S3Region       string
	S3Bucket       string
	S3Endpoint     string // Optional: for MinIO or other S3 compatible
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Enabled  bool
}

type HubConfig struct {
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	LowStockThreshold int
	SendBuffer        int
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	QueryLimit        int
}

type MetricsConfig struct {
	DailyTTL  time.Duration
	HourlyTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

type Config struct {
	Server   ServerConfig
	JWT      JWTConfig
	Database DBConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Hub      HubConfig
	Metrics  MetricsConfig
	Log      LogConfig

	// Warnings collected while loading; logged once a logger exists.
	Warnings []string
}

const defaultJWTSecret = "a_very_secret_key"

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	jwtExpMinutes, _ := strconv.Atoi(getEnv("JWT_EXPIRATION_MINUTES", "720"))
	s3UsePathStyle, _ := strconv.ParseBool(getEnv("S3_USE_PATH_STYLE", "false"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisEnabled, _ := strconv.ParseBool(getEnv("REDIS_ENABLED", "true"))
	var warnings []string
	lowStock := getInt("HUB_LOW_STOCK_THRESHOLD", 10, &warnings)
	sendBuffer := getInt("HUB_SEND_BUFFER", 256, &warnings)
	maxMessageBytes := int64(getInt("HUB_MAX_MESSAGE_BYTES", 65536, &warnings))
	messagesPerSecond := getFloat("HUB_MESSAGES_PER_SECOND", 20, &warnings)
	messageBurst := getInt("HUB_MESSAGE_BURST", 40, &warnings)
	queryLimit := getInt("HUB_QUERY_LIMIT", 50, &warnings)
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", defaultJWTSecret),
			Expiration: time.Duration(jwtExpMinutes) * time.Minute,
			Issuer:     getEnv("JWT_ISSUER", "pos-hub"),
		},
		Database: DBConfig{
			Type:                 getEnv("DB_TYPE", "postgres"),
			PostgresDSN:          getEnv("POSTGRES_DSN", ""),
			SQLitePath:           getEnv("SQLITE_PATH", "./pos.db"),
			MongoURI:             getEnv("MONGO_URI", ""),
			MongoDBName:          getEnv("MONGO_DB_NAME", ""),
			DynamoRegion:         getEnv("AWS_REGION", ""),
			DynamoTable:          getEnv("DYNAMO_TABLE_NAME", ""),
			FirestoreProjectID:   getEnv("FIRESTORE_PROJECT_ID", ""),
			FirestoreCredentials: getEnv("FIRESTORE_CREDENTIALS_FILE", ""),
		},
		Storage: StorageConfig{
			Type:           getEnv("STORAGE_TYPE", "none"),
			S3Region:       getEnv("AWS_REGION", ""),
			S3Bucket:       getEnv("S3_BUCKET_NAME", ""),
			S3Endpoint:     getEnv("S3_ENDPOINT", ""),
			S3AccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
			S3SecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3UsePathStyle: s3UsePathStyle,
		},
		Redis: RedisConfig{
			Enabled:  redisEnabled,
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			Prefix:   getEnv("REDIS_PREFIX", "pos:"),
		},
		Hub: HubConfig{
			IdleTimeout:       getDuration("HUB_IDLE_TIMEOUT", 5*time.Minute, &warnings),
			SweepInterval:     getDuration("HUB_SWEEP_INTERVAL", time.Minute, &warnings),
			LowStockThreshold: lowStock,
			SendBuffer:        sendBuffer,
			MaxMessageBytes:   maxMessageBytes,
			MessagesPerSecond: messagesPerSecond,
			MessageBurst:      messageBurst,
			QueryLimit:        queryLimit,
		},
		Metrics: MetricsConfig{
			DailyTTL:  getDuration("METRICS_DAILY_TTL", 30*24*time.Hour, &warnings),
			HourlyTTL: getDuration("METRICS_HOURLY_TTL", 48*time.Hour, &warnings),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Warnings = warnings

	// Basic validation
	if cfg.JWT.Secret == defaultJWTSecret {
		cfg.warn("JWT_SECRET is set to the default insecure value")
	}
	if cfg.Storage.Type == "s3" && cfg.Storage.S3Bucket == "" {
		cfg.warn("STORAGE_TYPE is s3 but S3_BUCKET_NAME is not set")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		cfg.warn("REDIS_ENABLED is true but REDIS_ADDR is not set, disabling Redis")
		cfg.Redis.Enabled = false
	}
	if cfg.Hub.SendBuffer <= 0 {
		cfg.warn(fmt.Sprintf("HUB_SEND_BUFFER must be positive, using 256 instead of %d", cfg.Hub.SendBuffer))
		cfg.Hub.SendBuffer = 256
	}
	if cfg.Hub.QueryLimit <= 0 {
		cfg.warn(fmt.Sprintf("HUB_QUERY_LIMIT must be positive, using 50 instead of %d", cfg.Hub.QueryLimit))
		cfg.Hub.QueryLimit = 50
	}
	// A zero burst would reject every frame whenever a rate is set.
	if cfg.Hub.MessagesPerSecond > 0 && cfg.Hub.MessageBurst < 1 {
		cfg.warn(fmt.Sprintf("HUB_MESSAGE_BURST must be at least 1, using 1 instead of %d", cfg.Hub.MessageBurst))
		cfg.Hub.MessageBurst = 1
	}
	if cfg.Hub.MaxMessageBytes <= 0 {
		cfg.warn(fmt.Sprintf("HUB_MAX_MESSAGE_BYTES must be positive, using 65536 instead of %d", cfg.Hub.MaxMessageBytes))
		cfg.Hub.MaxMessageBytes = 65536
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// getDuration accepts Go duration strings ("90s", "5m").
func getDuration(key string, fallback time.Duration, warnings *[]string) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("invalid duration %q for %s, using %s", raw, key, fallback))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, warnings *[]string) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("invalid integer %q for %s, using %d", raw, key, fallback))
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64, warnings *[]string) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("invalid number %q for %s, using %g", raw, key, fallback))
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
