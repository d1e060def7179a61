package main

import (
	"fmt"
	"time"

	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/smarthost-reservations/internal/outbox"
	"github.com/robertarktes/smarthost-reservations/internal/reservation"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var pendingTTL time.Duration

	c := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale PENDING reservations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			if pendingTTL == 0 {
				pendingTTL = e.cfg.PendingTTL
			}
			if pendingTTL <= e.cfg.CheckoutSessionTTL {
				return fmt.Errorf("--pending-ttl must exceed the checkout session TTL (%s)", e.cfg.CheckoutSessionTTL)
			}

			ctx := cmd.Context()
			pool, store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			client, db, err := e.openMongo(ctx)
			if err != nil {
				return err
			}
			defer client.Disconnect(ctx)

			sweeper := reservation.NewSweeper(store, pendingTTL, e.logger, mongoadapter.NewAuditLogger(db, e.logger))
			n, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale reservations\n", n)
			return nil
		},
	}
	c.Flags().DurationVar(&pendingTTL, "pending-ttl", 0, "age after which a PENDING reservation is removed (default PENDING_TTL)")
	return c
}

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and relay the transactional outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "relay",
		Short: "Publish one batch of pending outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			conn, err := rabbit.Dial(ctx, e.cfg.RabbitURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			pub, err := rabbit.NewPublisher(conn)
			if err != nil {
				return err
			}
			defer pub.Close()

			n, err := outbox.NewPublisher(store, pub, e.logger).PublishOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", n)
			return nil
		},
	})
	return cmd
}
