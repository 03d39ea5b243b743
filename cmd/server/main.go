// Command server runs the gigmarket identity API.
//
// @title                       Gigmarket Identity API
// @version                     1.0
// @description                 Accounts, sessions and password recovery for the gigmarket marketplace.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/gigmarket/identity/internal/api"
	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/ports"
	"github.com/gigmarket/identity/internal/core/service"
	"github.com/gigmarket/identity/internal/infrastructure/config"
	"github.com/gigmarket/identity/internal/infrastructure/db/memory"
	mongostore "github.com/gigmarket/identity/internal/infrastructure/db/mongo"
	pgstore "github.com/gigmarket/identity/internal/infrastructure/db/postgres"
	redisstore "github.com/gigmarket/identity/internal/infrastructure/db/redis"
	httpserver "github.com/gigmarket/identity/internal/infrastructure/http"
	"github.com/gigmarket/identity/internal/infrastructure/http/handlers"
	"github.com/gigmarket/identity/internal/infrastructure/mail"
	"github.com/gigmarket/identity/internal/infrastructure/queue"
	"github.com/gigmarket/identity/internal/infrastructure/ratelimit"
	"github.com/gigmarket/identity/pkg/logger"
)

const (
	serviceName   = "gigmarket-identity"
	sweepInterval = time.Minute
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load(boot)

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: serviceName,
		Env:     cfg.Env,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		checks  []handlers.Check
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, err := openStore(ctx, cfg, &checks, &closers)
	if err != nil {
		return err
	}

	limiter, err := openLimiter(ctx, cfg, &checks, &closers)
	if err != nil {
		return err
	}

	hasher := metrics.TimedHasher(service.NewBoundedHasher(newHasher(cfg), cfg.Hashing.Concurrency))

	tokens, err := service.NewTokenService(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.TTL)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		return err
	}

	dispatcher := queue.NewDispatcher(newSender(cfg, log), queue.Options{
		Workers:      cfg.Mail.Workers,
		Rate:         cfg.Mail.Rate,
		ResetURL:     cfg.Mail.ResetURL,
		DrainTimeout: cfg.Mail.DrainTimeout,
	}, logger.Component("mail"))
	dispatcher.Start(ctx)
	defer func() {
		cancel()
		dispatcher.Wait()
	}()

	e := api.NewRouter(api.Dependencies{
		Auth:  service.NewAuthService(store, hasher, tokens, logger.Component("auth")),
		Reset: service.NewResetService(store, hasher, dispatcher, service.ResetConfig{
			TTL:                 cfg.Reset.TTL,
			ConcealUnknownEmail: cfg.Reset.ConcealUnknown,
			Limiter:             limiter,
		}, logger.Component("reset")),
		Verifier:       tokens,
		Limiter:        limiter,
		Checks:         checks,
		Log:            logger.Component("http"),
		TrustedProxies: proxies,
	})

	return httpserver.Serve(ctx, e, ":"+cfg.Port, log)
}

func openStore(ctx context.Context, cfg *config.Config, checks *[]handlers.Check, closers *[]func()) (ports.CredentialStore, error) {
	switch cfg.Backends.Store {
	case config.StoreMongo:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{
			URI:         cfg.Mongo.URI,
			Database:    cfg.Mongo.Database,
			AppName:     serviceName,
			MaxPoolSize: cfg.Mongo.MaxPoolSize,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = client.Disconnect(context.Background()) })
		*checks = append(*checks, handlers.MongoCheck(db))

		store := mongostore.NewCredentialStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.StorePostgres:
		pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: cfg.Postgres.DSN})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, pool.Close)
		*checks = append(*checks, handlers.PostgresCheck(pool))

		store := pgstore.NewCredentialStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return memory.NewCredentialStore(), nil
	}
}

func openLimiter(ctx context.Context, cfg *config.Config, checks *[]handlers.Check, closers *[]func()) (ports.RateLimiter, error) {
	if cfg.Backends.RateLimit == config.LimiterRedis {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			ClientName: serviceName,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = rdb.Close() })
		*checks = append(*checks, handlers.RedisCheck(rdb))
		return redisstore.NewRateLimiter(rdb, nil), nil
	}

	lim := ratelimit.NewMemory(nil)
	go lim.Run(ctx, sweepInterval)
	return lim, nil
}

func newHasher(cfg *config.Config) ports.PasswordHasher {
	if cfg.Hashing.Algorithm == config.HasherArgon2id {
		return service.NewArgon2Hasher(service.DefaultArgon2Params)
	}
	return service.NewBcryptHasher(cfg.Hashing.BcryptCost)
}

func newSender(cfg *config.Config, log zerolog.Logger) mail.Sender {
	if cfg.Mail.Driver == config.MailSMTP {
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.SMTP.Host,
			Port:     cfg.Mail.SMTP.Port,
			Username: cfg.Mail.SMTP.Username,
			Password: cfg.Mail.SMTP.Password,
			From:     cfg.Mail.From,
		})
	}
	return mail.NewLogSender(log.With().Str("component", "mail").Logger(), !cfg.IsProduction())
}
