package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/adapters/crdb"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/smarthost-reservations/internal/config"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/outbox"
)

const (
	serviceName   = "smarthost-outbox-publisher"
	relayInterval = 2 * time.Second
)

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

	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", serviceName)
	observability.InitMetrics()

	pool, err := crdb.Open(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(cfg.TxMaxRetries))

	conn, err := rabbit.Dial(context.Background(), cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(repo, rabbitPub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		publisher.Run(ctx, relayInterval)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown outbox publisher")
	cancel()
	<-done
}
