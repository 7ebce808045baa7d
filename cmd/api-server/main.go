package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/newsletter/internal/api"
	"github.com/sungwon/newsletter/internal/auth"
	"github.com/sungwon/newsletter/internal/bootstrap"
	"github.com/sungwon/newsletter/internal/config"
	"github.com/sungwon/newsletter/internal/idempotency"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/logger"
	"github.com/sungwon/newsletter/internal/notify"
	"github.com/sungwon/newsletter/internal/outbox"
	"github.com/sungwon/newsletter/internal/publish"
	"github.com/sungwon/newsletter/internal/storage"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Options{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting API server")

	ctx := context.Background()
	db, err := storage.NewDB(
		ctx,
		cfg.Database.URL,
		cfg.Database.PoolMin,
		cfg.Database.PoolMax,
		cfg.Database.ConnectTimeout,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("database connection established")

	if err := bootstrap.SeedSubscribers(ctx, db.Pool, log, cfg.Seed.Subscribers); err != nil {
		log.Fatal().Err(err).Msg("failed to seed subscribers")
	}

	ready := map[string]api.Pinger{"database": db}

	var notifier notify.Publisher = notify.Noop{}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		rn := notify.NewRedis(redisClient, cfg.Redis.Channel, log)
		if err := rn.Ping(ctx); err != nil {
			// Workers still poll, so a missing Redis only costs latency.
			log.Warn().Err(err).Msg("redis unreachable; delivery wake-ups disabled until it returns")
		}
		notifier = rn
		ready["redis"] = rn
	}

	queue := outbox.NewQueue(db.Pool, log)
	issues := issue.NewStore(db.Pool)
	coordinator := publish.NewCoordinator(
		idempotency.NewStore(db.Pool, log),
		issues,
		queue,
		notifier,
		cfg.Publish.RedirectLocation,
		log,
	)

	if cfg.Auth.SigningKey == "" || cfg.Auth.SigningKey == "dev-signing-key-change-me" {
		log.Warn().Msg("JWT signing key is not set or using default value; set NEWSLETTER_AUTH_SIGNING_KEY in production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		TokenTTL:   cfg.Auth.TokenTTL,
	})

	router := api.NewRouter(api.Deps{
		Publisher: coordinator,
		Issues:    issues,
		Pending:   queue,
		JWT:       jwtService,
		Audit:     auth.NewAuditLogger(log),
		Ready:     ready,
	}, log)

	srv := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
