package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robertarktes/smarthost-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/robertarktes/smarthost-reservations/internal/config"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/reservation"
)

const serviceName = "smarthost-expiry-worker"

// The expiry worker removes PENDING reservations whose checkout was never
// completed and whose expiry webhook never arrived.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, serviceName)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	flushSentry, err := observability.SetupSentry(cfg, serviceName)
	if err != nil {
		log.Fatalf("failed to setup sentry: %v", err)
	}
	defer flushSentry()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", serviceName)
	observability.InitMetrics()

	pool, err := crdb.Open(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	store := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	mongoClient, err := mongoadapter.Connect(context.Background(), cfg.MongoURI)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	auditor := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	sweeper := reservation.NewSweeper(store, cfg.PendingTTL, logger, auditor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, cfg.SweepInterval)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
	cancel()
	<-done
}
