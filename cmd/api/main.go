package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/redis"
	"github.com/robertarktes/smarthost-reservations/internal/availability"
	"github.com/robertarktes/smarthost-reservations/internal/checkout"
	"github.com/robertarktes/smarthost-reservations/internal/config"
	httphandler "github.com/robertarktes/smarthost-reservations/internal/http"
	"github.com/robertarktes/smarthost-reservations/internal/idempotency"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/payment"
	"github.com/robertarktes/smarthost-reservations/internal/ratelimit"
	"github.com/robertarktes/smarthost-reservations/internal/reservation"
)

const serviceName = "smarthost-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, serviceName)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	flushSentry, err := observability.SetupSentry(cfg, serviceName)
	if err != nil {
		log.Fatalf("failed to setup sentry: %v", err)
	}
	defer flushSentry()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)
	observability.InitMetrics()

	ctx := context.Background()

	pool, err := crdb.Open(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	store := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	mongoClient, err := mongoadapter.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	auditor := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)
	rl := ratelimit.NewRateLimiter(redisCache, cfg.RateLimit, time.Minute, logger)
	eventLog := redisadapter.NewEventLog(redisClient, redisadapter.DefaultEventLogTTL)

	rabbitConn, err := rabbit.Dial(ctx, cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	gateway := checkout.NewGateway(checkout.Config{
		SecretKey:  cfg.StripeSecretKey,
		Currency:   cfg.CheckoutCurrency,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		SessionTTL: cfg.CheckoutSessionTTL,
		Timeout:    cfg.CheckoutTimeout,
	})

	coordinator := reservation.NewCoordinator(store, catalog, gateway,
		reservation.WithAuditor(auditor),
		reservation.WithLogger(logger),
		reservation.WithWriteTimeout(cfg.WriteTimeout),
	)
	reconciler := payment.NewReconciler(store, checkout.NewVerifier(cfg.StripeWebhookSecret), gateway,
		payment.WithNotifier(rabbit.NewNotifier(rabbitPub)),
		payment.WithAuditor(auditor),
		payment.WithEventLog(eventLog),
		payment.WithLogger(logger),
	)
	oracle := availability.NewOracle(store, time.Now)

	ready := map[string]httphandler.ReadyCheck{
		"crdb":     store.Ping,
		"redis":    redisCache.Ping,
		"mongo":    func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		"rabbitmq": rabbit.Check(rabbitConn),
	}

	handlers := httphandler.NewHandlers(coordinator, reconciler, oracle, catalog, ready, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
