package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Codes    CodesConfig
	Imports  ImportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CodesConfig governs code generation and group listings.
type CodesConfig struct {
	Prefix        string
	SuffixLength  int
	MaxBatch      int
	MaxAttempts   int
	GroupCacheTTL time.Duration
}

// ImportsConfig tunes the bulk CSV import pipeline.
type ImportsConfig struct {
	ChunkSize         int
	MemoryLimitBytes  uint64
	MemoryCheckEvery  int
	SpoolDir          string
	SpoolTTL          time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Codes = CodesConfig{
		Prefix:        v.GetString("CODES_PREFIX"),
		SuffixLength:  v.GetInt("CODES_SUFFIX_LENGTH"),
		MaxBatch:      v.GetInt("CODES_MAX_BATCH"),
		MaxAttempts:   v.GetInt("CODES_MAX_ATTEMPTS"),
		GroupCacheTTL: parseDuration(v.GetString("CODES_GROUP_CACHE_TTL"), 5*time.Minute),
	}

	memoryLimit := v.GetInt64("IMPORTS_MEMORY_LIMIT")
	if memoryLimit <= 0 {
		memoryLimit = 256 * 1024 * 1024
	}
	cfg.Imports = ImportsConfig{
		ChunkSize:         v.GetInt("IMPORTS_CHUNK_SIZE"),
		MemoryLimitBytes:  uint64(memoryLimit),
		MemoryCheckEvery:  v.GetInt("IMPORTS_MEMORY_CHECK_EVERY"),
		SpoolDir:          v.GetString("IMPORTS_SPOOL_DIR"),
		SpoolTTL:          parseDuration(v.GetString("IMPORTS_SPOOL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("IMPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("IMPORTS_WORKER_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "regcode_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CODES_PREFIX", "SMA-")
	v.SetDefault("CODES_SUFFIX_LENGTH", 8)
	v.SetDefault("CODES_MAX_BATCH", 500)
	v.SetDefault("CODES_MAX_ATTEMPTS", 10)
	v.SetDefault("CODES_GROUP_CACHE_TTL", "5m")

	v.SetDefault("IMPORTS_CHUNK_SIZE", 25)
	v.SetDefault("IMPORTS_MEMORY_LIMIT", 256*1024*1024)
	v.SetDefault("IMPORTS_MEMORY_CHECK_EVERY", 8)
	v.SetDefault("IMPORTS_SPOOL_DIR", "./imports")
	v.SetDefault("IMPORTS_SPOOL_TTL", "24h")
	v.SetDefault("IMPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("IMPORTS_WORKER_RETRIES", 1)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
