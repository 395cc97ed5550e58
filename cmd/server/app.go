package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vestri/authcore/internal/auth"
	"github.com/vestri/authcore/internal/auth/postgres"
	"github.com/vestri/authcore/internal/auth/redisstore"
	"github.com/vestri/authcore/internal/config"
	"github.com/vestri/authcore/internal/database"
	"github.com/vestri/authcore/internal/email"
	"github.com/vestri/authcore/internal/logging"
	"github.com/vestri/authcore/internal/metrics"
	redisx "github.com/vestri/authcore/internal/redis"
)

// app holds the process-wide dependencies shared by the subcommands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	logFile  io.Closer
	db       *pgxpool.Pool
	redis    *goredis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	service  *auth.Service
}

func loadConfig() (config.Config, error) {
	if err := config.LoadDotenv(envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	out, logFile, err := logging.Output(cfg.Log.File, cfg.Log.MaxBytes, cfg.Log.MaxBackups)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logging.Setup("authcore", version, cfg.Log.Format, out),
		logFile: logFile,
	}
	slog.SetDefault(a.logger)

	a.db, err = database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}

	var sessions auth.SessionRepository = postgres.NewSessionRepository(a.db)
	if cfg.SessionStore == config.StoreRedis {
		a.redis, err = redisx.New(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		sessions = redisstore.NewSessionRepository(a.redis)
	}

	a.registry, a.metrics = metrics.NewRegistry()

	users := postgres.NewUserRepository(a.db)
	manager := auth.NewSessionManager(sessions, users, auth.SessionConfig{
		TTL:         cfg.Session.TTL,
		RenewWithin: cfg.Session.RenewWithin,
	})
	codes := auth.NewCodeService(postgres.NewCodeRepository(a.db), cfg.VerificationCodeTTL)
	mailer := metrics.CountMailer(email.New(cfg.Email, a.logger), a.metrics)

	a.service, err = auth.NewService(users, auth.NewSHA256Hasher(), manager, codes, mailer, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Info("dependencies ready",
		"session_store", cfg.SessionStore,
		"email_enabled", cfg.Email.Enabled(),
	)
	return a, nil
}

func (a *app) cookieConfig() auth.CookieConfig {
	return auth.CookieConfig{
		Name:   a.cfg.Cookie.Name,
		Domain: a.cfg.Cookie.Domain,
		Secure: a.cfg.Cookie.Secure,
	}
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
