// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to an
// environment variable.
type Config struct {
	Env  string // application environment (dev, test, prod)
	Port string // HTTP port to listen on

	Storage string // "mysql" or "memory"
	DBUser  string
	DBPass  string // may be empty
	DBHost  string
	DBPort  string
	DBName  string

	JWTSecret string        // HMAC secret for session tokens, at least 32 bytes
	JWTIssuer string        // iss claim written and required on tokens
	AccessTTL time.Duration // session token lifetime

	Argon2MemoryKiB   uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8

	LogLevel  string
	LogFormat string

	CORSAllowOrigins []string
	MigrateOnStart   bool
	RequestTimeout   time.Duration // per-request storage deadline

	RabbitURL               string
	SpendingAlertsEnabled   bool
	SpendingConsumerEnabled bool
	SpendingLogDir          string
}

// Storage backends.
const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// DotEnv is the optional file Load reads before the process environment.
// Values already present in the environment win.
var DotEnv = ".env"

// Load reads configuration from an optional .env file and the environment.
// Missing or invalid values are collected and returned together.
func Load() (Config, error) {
	if err := godotenv.Load(DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnv, err)
	}

	var errs []error
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s", key))
		}
		return v
	}
	storage := strings.ToLower(envStr("STORAGE", StorageMySQL))
	db := must
	switch storage {
	case StorageMySQL:
	case StorageMemory:
		db = os.Getenv
	default:
		errs = append(errs, fmt.Errorf("invalid value for STORAGE: %q", storage))
	}
	positive := func(key string, def int, max int) int {
		n := envInt(key, def)
		if n < 1 || n > max {
			errs = append(errs, fmt.Errorf("invalid value for %s: %d", key, n))
			return def
		}
		return n
	}

	cfg := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: must("APP_PORT"),

		Storage: storage,
		DBUser:  db("DB_USER"),
		DBPass:  os.Getenv("DB_PASS"),
		DBHost:  db("DB_HOST"),
		DBPort:  db("DB_PORT"),
		DBName:  db("DB_NAME"),

		JWTSecret: must("JWT_SECRET"),
		JWTIssuer: envStr("JWT_ISSUER", "expense-tracker"),
		AccessTTL: time.Duration(positive("ACCESS_TOKEN_TTL_MIN", 60, 7*24*60)) * time.Minute,

		Argon2MemoryKiB:   uint32(positive("ARGON2_MEMORY_KIB", 64*1024, 4*1024*1024)),
		Argon2Iterations:  uint32(positive("ARGON2_ITERATIONS", 3, 64)),
		Argon2Parallelism: uint8(positive("ARGON2_PARALLELISM", 2, 255)),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "json"),

		CORSAllowOrigins: splitList(os.Getenv("CORS_ALLOW_ORIGINS")),
		MigrateOnStart:   envBool("MIGRATE_ON_START", true),
		RequestTimeout:   envDur("REQUEST_TIMEOUT", 5*time.Second),

		RabbitURL:               os.Getenv("RABBITMQ_URL"),
		SpendingAlertsEnabled:   envBool("SPENDING_ALERTS_ENABLED", true),
		SpendingConsumerEnabled: envBool("SPENDING_CONSUMER_ENABLED", false),
		SpendingLogDir:          envStr("SPENDING_LOG_DIR", "logs"),
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// DSNParts returns the database connection settings in the order
// database.Open expects them.
func (c Config) DSNParts() (user, pass, host, port, name string) {
	return c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
