package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/events"
	"github.com/Nzyazin/moneybridge/internal/core/handler"
	"github.com/Nzyazin/moneybridge/internal/core/logger"
	"github.com/Nzyazin/moneybridge/internal/core/metrics"
	"github.com/Nzyazin/moneybridge/internal/core/repository/postgres"
	"github.com/Nzyazin/moneybridge/internal/core/usecase"
	"github.com/Nzyazin/moneybridge/internal/server"
	"github.com/Nzyazin/moneybridge/pkg/config"
	"github.com/Nzyazin/moneybridge/pkg/postgresdb"
	"github.com/Nzyazin/moneybridge/pkg/redisdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const currencyCacheTTL = 5 * time.Minute

func main() {
	envFile := flag.String("env", ".env", "path to an optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	zlog, cleanup, err := logger.NewLogger(cfg.LogDir)
	if err != nil {
		os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer cleanup()

	if err := run(cfg, zlog); err != nil {
		zlog.Error("Service stopped with error", logger.ErrorField("error", err))
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	log.Info("Starting moneybridge", logger.AnyField("config", cfg.Redact()))

	db, err := postgresdb.NewPostgresDB(cfg.DB, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgresdb.Migrate(db.DB, postgres.Migrations(), log); err != nil {
		return err
	}

	engineMetrics := metrics.NewEngine(prometheus.DefaultRegisterer)
	store := postgres.NewStore(db.DB, log, cfg.DB.TxMaxRetries,
		postgres.WithRetryObserver(engineMetrics.TxRetry),
		postgres.WithCurrencyCache(currencyCacheTTL),
	)

	uc := usecase.NewTransactionUsecase(usecase.Dependencies{
		Store:        store,
		Ledger:       usecase.NewLedger(usecase.SystemClock, engineMetrics, log),
		Rates:        usecase.NewExchangeRateProvider(store.Rates(), log),
		Fees:         usecase.NewFeeCalculator(store.Fees(), log),
		Limits:       usecase.NewLimitPolicy(store.Limits(), usecase.SystemClock, log),
		Metrics:      engineMetrics,
		Log:          log,
		Clock:        usecase.SystemClock,
		HomeCurrency: cfg.HomeCurrency,
	})

	health := map[string]server.HealthCheck{"postgres": db.PingContext}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisdb.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		log.Warn("REDIS_ADDR not set, Idempotency-Key headers are ignored")
	}

	var publisher events.Publisher = events.NewLogPublisher(log)
	if cfg.Kafka.Brokers != "" {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	srv := server.NewServer(handler.NewTransactionHandler(uc, log), server.Options{
		Addr:           cfg.HTTPAddr,
		Redis:          redisClient,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		Health:         health,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := events.NewRelay(store, publisher, engineMetrics, log, events.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", logger.StringField("addr", cfg.HTTPAddr))
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			err = srv.RunTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.Run()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case runErr = <-serveErr:
		log.Error("Server failed", logger.ErrorField("error", runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", logger.ErrorField("error", err))
	}
	wg.Wait()

	log.Info("Server exited properly")
	return runErr
}
