package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

type Config struct {
	Env  string
	Port int

	StoreDriver string
	DBURL       string
	DBMigrate   bool

	MongoURI string
	MongoDB  string

	CacheDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	// capacity of the in-process cache driver
	MemoryCacheEntries int

	JWTSecret string
	JWTTTL    time.Duration

	CORSOrigins     []string
	AuthRateLimit   int
	AuthRateWindow  time.Duration
	MaxBodyBytes    int64
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	ServiceName     string

	// Off by default: a profile update leaves profile:<id> cached until its TTL runs out.
	ProfileInvalidateOnUpdate bool
}

func Load() Config {
	return load(os.Getenv)
}

func load(getenv func(string) string) Config {
	env := getEnv(getenv, "APP_ENV", EnvDev)
	dbURL := getEnv(getenv, "DATABASE_URL", "")
	if dbURL == "" {
		dbURL = buildDBURL(getenv)
	}

	return Config{
		Env:  env,
		Port: getEnvInt(getenv, "PORT", 5000),

		StoreDriver: strings.ToLower(getEnv(getenv, "STORE_DRIVER", StorePostgres)),
		DBURL:       dbURL,
		DBMigrate:   getEnvBool(getenv, "DB_MIGRATE", true),

		MongoURI: getEnv(getenv, "MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:  getEnv(getenv, "MONGO_DB", "userhub"),

		CacheDriver:        strings.ToLower(getEnv(getenv, "CACHE_DRIVER", CacheRedis)),
		RedisAddr:          getEnv(getenv, "REDIS_HOST", "localhost") + ":" + getEnv(getenv, "REDIS_PORT", "6379"),
		RedisPassword:      getEnv(getenv, "REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt(getenv, "REDIS_DB", 0),
		CacheTTL:           getEnvDuration(getenv, "CACHE_TTL", 60*time.Second),
		MemoryCacheEntries: getEnvInt(getenv, "MEMORY_CACHE_ENTRIES", 10_000),

		JWTSecret: getEnv(getenv, "JWT_SECRET", ""),
		JWTTTL:    getEnvDuration(getenv, "JWT_TTL", 7*24*time.Hour),

		CORSOrigins:     splitList(getEnv(getenv, "CORS_ORIGINS", "*")),
		AuthRateLimit:   getEnvInt(getenv, "AUTH_RATE_LIMIT", 20),
		AuthRateWindow:  getEnvDuration(getenv, "AUTH_RATE_WINDOW", time.Minute),
		MaxBodyBytes:    int64(getEnvInt(getenv, "MAX_BODY_BYTES", 1<<20)),
		OTelEnabled:     getEnvBool(getenv, "OTEL_ENABLED", false),
		OTelEndpoint:    getEnv(getenv, "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat(getenv, "OTEL_SAMPLE_RATIO", 1),
		ServiceName:     getEnv(getenv, "OTEL_SERVICE_NAME", "userhub"),

		ProfileInvalidateOnUpdate: getEnvBool(getenv, "PROFILE_INVALIDATE_ON_UPDATE", false),
	}
}

// LoadDotEnv reads <dir>/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ParseFlags lets the command line override what the environment provided.
func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("userhub", pflag.ContinueOnError)

	fs.StringVarP(&c.Env, "env", "e", c.Env, "Environment (dev, test, prod)")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "HTTP listen port")
	fs.StringVarP(&c.StoreDriver, "store", "s", c.StoreDriver, "Credential store (postgres, mongo, memory)")
	fs.StringVarP(&c.DBURL, "database", "d", c.DBURL, "Postgres connection string")
	fs.BoolVar(&c.DBMigrate, "migrate", c.DBMigrate, "Apply embedded Postgres migrations on start")
	fs.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection string")
	fs.StringVarP(&c.CacheDriver, "cache", "c", c.CacheDriver, "Cache backend (redis, memory, none)")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address host:port")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "TTL of cached profile and follow views")

	return fs.Parse(args)
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	switch c.CacheDriver {
	case CacheRedis, CacheMemory, CacheNone:
	default:
		return fmt.Errorf("unknown cache driver %q", c.CacheDriver)
	}

	if c.JWTSecret == "" && c.Env != EnvDev {
		return errors.New("JWT_SECRET must be set outside dev")
	}

	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}

	return nil
}

func (c Config) IsProd() bool {
	return c.Env == EnvProd
}

func buildDBURL(getenv func(string) string) string {
	host := getEnv(getenv, "DB_HOST", "127.0.0.1")
	port := getEnv(getenv, "DB_PORT", "5432")
	user := getEnv(getenv, "DB_USER", "userhub")
	pass := getEnv(getenv, "DB_PASSWORD", "userhub")
	name := getEnv(getenv, "DB_NAME", "userhub")
	ssl := getEnv(getenv, "DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(getenv func(string) string, key string, fallback int) int {
	if v := getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(getenv func(string) string, key string, fallback bool) bool {
	if v := getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvFloat(getenv func(string) string, key string, fallback float64) float64 {
	if v := getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fallback
		}
		return f
	}
	return fallback
}

// accepts Go durations ("90s") or plain seconds ("60")
func getEnvDuration(getenv func(string) string, key string, fallback time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return fallback
	}

	if d, err := time.ParseDuration(v); err == nil {
		return d
	}

	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}

	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
