package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/eventpipe/inbox"
	"github.com/md-rashed-zaman/eventpipe/libs/config"
	"github.com/md-rashed-zaman/eventpipe/libs/db"
	"github.com/md-rashed-zaman/eventpipe/libs/httpx"
	"github.com/md-rashed-zaman/eventpipe/libs/kafkax"
	otelx "github.com/md-rashed-zaman/eventpipe/libs/otel"
	"github.com/md-rashed-zaman/eventpipe/libs/runtime"
	"github.com/md-rashed-zaman/eventpipe/outbox"
	"github.com/md-rashed-zaman/eventpipe/services/relay-worker/internal/ops"
	"github.com/md-rashed-zaman/eventpipe/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "relay-worker")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	kafkaTransport, err := transport.NewKafka(kafkax.SplitBrokers(kafkaBrokers))
	if err != nil {
		logger.Error("kafka transport unavailable", "err", err)
		panic(err)
	}
	defer kafkaTransport.Close()

	store := outbox.NewPostgresStore(pool)
	dispatcher, err := outbox.NewDispatcher(store, kafkaTransport, logger, outbox.Config{
		PollEvery:   config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize:   config.Int("OUTBOX_BATCH_SIZE", 50),
		MaxAttempts: config.Int("OUTBOX_MAX_ATTEMPTS", 5),
		BaseBackoff: config.Duration("OUTBOX_BASE_BACKOFF", time.Second),
		MaxBackoff:  config.Duration("OUTBOX_MAX_BACKOFF", 5*time.Minute),
		ClaimLease:  config.Duration("OUTBOX_CLAIM_LEASE", 5*time.Minute),
		Concurrency: config.Int("OUTBOX_CONCURRENCY", 4),
	})
	if err != nil {
		logger.Error("dispatcher init failed", "err", err)
		panic(err)
	}
	go dispatcher.Run(ctx)
	logger.Info("outbox dispatcher started", "brokers", kafkaBrokers)

	ledger := inbox.NewPostgresLedger(pool)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	opsHandler := ops.New(store, ledger, logger, config.Duration("INBOX_STUCK_AFTER", 5*time.Minute))
	opsHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(10*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "relay-worker")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("relay worker stopped")
}
