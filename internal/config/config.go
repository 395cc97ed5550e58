package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Port                string
	DatabaseURL         string
	RedisURL            string
	SessionStore        string
	Session             SessionConfig
	Cookie              CookieConfig
	VerificationCodeTTL time.Duration
	Log                 LogConfig
	Email               EmailConfig
}

type SessionConfig struct {
	TTL         time.Duration
	RenewWithin time.Duration
}

type CookieConfig struct {
	Name   string
	Secure bool
	Domain string
}

type LogConfig struct {
	File       string
	Format     string
	MaxBytes   int64
	MaxBackups int
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

// LoadDotenv loads the first of the given files that exists into the
// environment. Variables already set win over file values.
func LoadDotenv(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := parseDuration(os.Getenv(key), def)
		if err != nil {
			errs = append(errs, oops.With("key", key).Wrap(err))
		}
		return d
	}
	integer := func(key string, def int) int {
		n, err := parseInt(os.Getenv(key), def)
		if err != nil {
			errs = append(errs, oops.With("key", key).Wrap(err))
		}
		return n
	}

	cfg := Config{
		Port:         getenvDefault("PORT", "8080"),
		DatabaseURL:  clean(os.Getenv("DATABASE_URL")),
		RedisURL:     getenvDefault("REDIS_URL", "redis://localhost:6379"),
		SessionStore: strings.ToLower(getenvDefault("SESSION_STORE", StorePostgres)),
		Session: SessionConfig{
			TTL:         duration("SESSION_TTL", 30*24*time.Hour),
			RenewWithin: duration("SESSION_RENEW_WITHIN", 0),
		},
		Cookie: CookieConfig{
			Name:   getenvDefault("SESSION_COOKIE_NAME", "session_id"),
			Secure: parseBool(os.Getenv("SESSION_COOKIE_SECURE")),
			Domain: clean(os.Getenv("SESSION_COOKIE_DOMAIN")),
		},
		VerificationCodeTTL: duration("VERIFICATION_CODE_TTL", 15*time.Minute),
		Log: LogConfig{
			File:       os.Getenv("LOG_FILE"),
			Format:     getenvDefault("LOG_FORMAT", "json"),
			MaxBytes:   int64(integer("LOG_MAX_BYTES", 10<<20)),
			MaxBackups: integer("LOG_MAX_BACKUPS", 5),
		},
		Email: EmailConfig{
			Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
			Port:     integer("EMAIL_SERVER_PORT", 587),
			Username: clean(os.Getenv("EMAIL_SERVER_USER")),
			Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
			From:     clean(os.Getenv("EMAIL_FROM")),
			Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
		},
	}

	if len(errs) > 0 {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
	}
	switch c.SessionStore {
	case StorePostgres, StoreRedis:
	default:
		return oops.Code("CONFIG_INVALID").
			With("session_store", c.SessionStore).
			Errorf("SESSION_STORE must be %q or %q", StorePostgres, StoreRedis)
	}
	if c.Session.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("SESSION_TTL must be positive")
	}
	if c.Session.RenewWithin > c.Session.TTL {
		return oops.Code("CONFIG_INVALID").Errorf("SESSION_RENEW_WITHIN must not exceed SESSION_TTL")
	}
	if c.VerificationCodeTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("VERIFICATION_CODE_TTL must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseDuration(val string, def time.Duration) (time.Duration, error) {
	val = strings.Trim(val, "\"' ")
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def, err
	}
	return d, nil
}

func parseInt(val string, def int) (int, error) {
	val = strings.Trim(val, "\"' ")
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def, err
	}
	return n, nil
}
