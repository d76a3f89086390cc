package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	defaultSQLiteDSN = "file:library.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

// Config holds application configuration values.
type Config struct {
	Secret         string
	TokenTTL       time.Duration
	DatabaseDriver string
	DatabaseDSN    string
	HTTPPort       string
	BcryptCost     int
	LogLevel       slog.Level
	AdminEmail     string
	AdminPassword  string
	CORSOrigins    []string
}

// Load reads configuration from environment variables with reasonable defaults.
func Load() Config {
	secret := getenv("SECRET", "dev_secret")

	port := getenv("HTTP_PORT", "8080")
	if _, err := strconv.Atoi(port); err != nil {
		slog.Warn("invalid HTTP_PORT, defaulting to 8080", "value", port)
		port = "8080"
	}

	ttl := 24 * time.Hour
	if raw := os.Getenv("TOKEN_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			slog.Warn("invalid TOKEN_TTL, defaulting to 24h", "value", raw)
		} else {
			ttl = d
		}
	}

	driver := NormalizeDriver(getenv("DATABASE_DRIVER", DriverSQLite))
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		if driver == DriverPostgres {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
				getenv("DATABASE_USER", "postgres"),
				getenv("DATABASE_PASSWORD", "postgres"),
				getenv("DATABASE_HOST", "localhost"),
				getenv("DATABASE_PORT", "5432"),
				getenv("DATABASE_NAME", "bookstore"),
			)
		} else {
			dsn = defaultSQLiteDSN
		}
	}

	cost := bcrypt.DefaultCost
	if raw := os.Getenv("BCRYPT_COST"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			slog.Warn("invalid BCRYPT_COST, using default", "value", raw)
		case n < bcrypt.MinCost:
			cost = bcrypt.MinCost
		case n > bcrypt.MaxCost:
			cost = bcrypt.MaxCost
		default:
			cost = n
		}
	}

	level := slog.LevelInfo
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			slog.Warn("invalid LOG_LEVEL, defaulting to info", "value", raw)
			level = slog.LevelInfo
		}
	}

	return Config{
		Secret:         secret,
		TokenTTL:       ttl,
		DatabaseDriver: driver,
		DatabaseDSN:    dsn,
		HTTPPort:       port,
		BcryptCost:     cost,
		LogLevel:       level,
		AdminEmail:     strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		CORSOrigins:    splitList(getenv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

// splitList parses a comma-separated value, dropping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NormalizeDriver maps user-facing driver names onto registered database/sql drivers.
func NormalizeDriver(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
