package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingJWTSecret = errors.New("JWT_SECRET is not configured")

type Config struct {
	Env   string
	Port  int
	DBURL string

	DBMaxConns int32

	JWTSecret string
	JWTExpiry time.Duration

	AdminEmail    string
	AdminPassword string
	AdminName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL           string
	NATSSubjectPrefix string

	OTELEndpoint string

	CORSAllowedOrigins []string

	AuthRateLimit  int
	AuthRateWindow time.Duration

	// per-user limit on loan writes
	WriteRateLimit  int
	WriteRateWindow time.Duration

	IdempotencyTTL time.Duration
	MaxBodyBytes   int64
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	// a missing .env is normal outside local dev
	_ = godotenv.Load()

	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "loanhub")
	v.SetDefault("DB_PASSWORD", "loanhub")
	v.SetDefault("DB_NAME", "loanhub")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("JWT_EXPIRES_IN", "24h")
	v.SetDefault("ADMIN_NAME", "Admin")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NATS_SUBJECT_PREFIX", "loanhub")
	v.SetDefault("AUTH_RATE_LIMIT", 10)
	v.SetDefault("AUTH_RATE_WINDOW", "1m")
	v.SetDefault("WRITE_RATE_LIMIT", 30)
	v.SetDefault("WRITE_RATE_WINDOW", "1m")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	return v
}

func FromViper(v *viper.Viper) (Config, error) {
	secret := strings.TrimSpace(v.GetString("JWT_SECRET"))
	if secret == "" {
		return Config{}, ErrMissingJWTSecret
	}

	jwtExpiry, err := ParseTTL(v.GetString("JWT_EXPIRES_IN"))
	if err != nil {
		return Config{}, fmt.Errorf("JWT_EXPIRES_IN: %w", err)
	}

	rateWindow, err := ParseTTL(v.GetString("AUTH_RATE_WINDOW"))
	if err != nil {
		return Config{}, fmt.Errorf("AUTH_RATE_WINDOW: %w", err)
	}

	writeWindow, err := ParseTTL(v.GetString("WRITE_RATE_WINDOW"))
	if err != nil {
		return Config{}, fmt.Errorf("WRITE_RATE_WINDOW: %w", err)
	}

	idemTTL, err := ParseTTL(v.GetString("IDEMPOTENCY_TTL"))
	if err != nil {
		return Config{}, fmt.Errorf("IDEMPOTENCY_TTL: %w", err)
	}

	dbURL := v.GetString("DATABASE_URL")
	if dbURL == "" {
		dbURL = buildDBURL(v)
	}

	return Config{
		Env:                v.GetString("APP_ENV"),
		Port:               v.GetInt("PORT"),
		DBURL:              dbURL,
		DBMaxConns:         v.GetInt32("DB_MAX_CONNS"),
		JWTSecret:          secret,
		JWTExpiry:          jwtExpiry,
		AdminEmail:         v.GetString("ADMIN_EMAIL"),
		AdminPassword:      v.GetString("ADMIN_PASSWORD"),
		AdminName:          v.GetString("ADMIN_NAME"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		NATSURL:            v.GetString("NATS_URL"),
		NATSSubjectPrefix:  v.GetString("NATS_SUBJECT_PREFIX"),
		OTELEndpoint:       v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		AuthRateLimit:      v.GetInt("AUTH_RATE_LIMIT"),
		AuthRateWindow:     rateWindow,
		WriteRateLimit:     v.GetInt("WRITE_RATE_LIMIT"),
		WriteRateWindow:    writeWindow,
		IdempotencyTTL:     idemTTL,
		MaxBodyBytes:       v.GetInt64("MAX_BODY_BYTES"),
	}, nil
}

func buildDBURL(v *viper.Viper) string {
	host := v.GetString("DB_HOST")
	port := v.GetString("DB_PORT")
	user := v.GetString("DB_USER")
	pass := v.GetString("DB_PASSWORD")
	name := v.GetString("DB_NAME")
	ssl := v.GetString("DB_SSLMODE")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

// ParseTTL accepts Go durations ("90m", "24h") and whole days ("1d", "7d").
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}

	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day duration %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", raw)
	}
	return d, nil
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
