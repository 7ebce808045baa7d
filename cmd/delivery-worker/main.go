package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sungwon/newsletter/internal/config"
	"github.com/sungwon/newsletter/internal/issue"
	"github.com/sungwon/newsletter/internal/logger"
	"github.com/sungwon/newsletter/internal/notify"
	"github.com/sungwon/newsletter/internal/outbox"
	"github.com/sungwon/newsletter/internal/provider"
	"github.com/sungwon/newsletter/internal/routing"
	"github.com/sungwon/newsletter/internal/storage"
	"github.com/sungwon/newsletter/internal/subscriber"
	"github.com/sungwon/newsletter/internal/worker"
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
	log.Info().Msg("starting delivery worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	from, err := subscriber.ParseEmail(cfg.Email.Sender)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid email.sender")
	}

	registry := provider.NewRegistry()
	rule := routing.Rule{}
	httpClient := provider.NewHTTPClient(cfg.Email.Timeout)
	for i, tc := range append([]config.TransportConfig{cfg.Email.TransportConfig}, cfg.Email.Fallbacks...) {
		var client provider.HTTPClient = httpClient
		if tc.Provider == "ses" {
			client, err = provider.NewAWSSigningClient(ctx, httpClient, "ses", tc.Region)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to load AWS credentials for ses")
			}
		}
		p, err := provider.NewProvider(providerConfig(tc, cfg.Email.Timeout), client)
		if err != nil {
			log.Fatal().Err(err).Int("index", i).Msg("failed to configure email provider")
		}
		registry.Register(p)
		if i == 0 {
			rule.Primary = p.GetName()
		} else {
			rule.Fallbacks = append(rule.Fallbacks, p.GetName())
		}
	}
	log.Info().
		Str("primary", rule.Primary).
		Strs("fallbacks", rule.Fallbacks).
		Msg("email providers configured")

	health := provider.NewHealthChecker(registry, cfg.Email.HealthInterval, log)
	health.Start(ctx)
	defer health.Stop()

	engine, err := routing.NewEngine(rule, health)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid email fallback configuration")
	}
	var transport provider.Provider
	if len(rule.Fallbacks) == 0 {
		transport, _ = registry.Get(rule.Primary)
	} else {
		transport = routing.NewFailover(engine, registry, log)
	}

	var listener notify.Listener = notify.Noop{}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		listener = notify.NewRedis(redisClient, cfg.Redis.Channel, log)
	}

	queue := outbox.NewQueue(db.Pool, log)
	runner := worker.NewRunner(
		worker.NewPostgresQueue(queue),
		issue.NewStore(db.Pool),
		provider.NewSender(transport, from, log),
		listener,
		worker.RunnerConfig{
			Config: worker.Config{
				IdleInterval:   cfg.Worker.IdleInterval,
				ErrorInterval:  cfg.Worker.ErrorInterval,
				ProcessTimeout: cfg.Worker.ProcessTimeout,
			},
			Concurrency:     cfg.Worker.Concurrency,
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		},
		log,
	)

	sampler := worker.NewSampler(queue, db.Pool, cfg.Worker.MetricsInterval, log)
	go sampler.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.Worker.MetricsAddr,
		Handler: opsRouter(db, engine),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	runner.Start(ctx)
	log.Info().
		Int("workers", cfg.Worker.Concurrency).
		Bool("redis_wakeups", cfg.Redis.Enabled).
		Msg("delivery workers started")

	<-ctx.Done()
	log.Info().Msg("shutting down delivery worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := runner.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("delivery workers did not drain")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server forced to shutdown")
	}

	log.Info().Msg("delivery worker stopped")
}

func providerConfig(c config.TransportConfig, timeout time.Duration) provider.ProviderConfig {
	return provider.ProviderConfig{
		Type:     c.Provider,
		APIKey:   c.APIKey,
		Endpoint: c.Endpoint,
		Timeout:  timeout,
		Region:   c.Region,
		Domain:   c.Domain,
		Path:     c.Path,
		Bucket:   c.Bucket,
		SMTPHost: c.SMTP.Host,
		SMTPPort: c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		StartTLS: c.SMTP.StartTLS,
	}
}

// opsRouter serves /metrics, /healthz and /readyz for the worker process.
// Ready means the database answers and some transport passed its probes.
func opsRouter(db *storage.DB, engine *routing.Engine) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if _, err := engine.ResolveProvider(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
