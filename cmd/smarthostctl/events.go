package main

import (
	"fmt"

	"github.com/robertarktes/smarthost-reservations/internal/adapters/rabbit"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var (
		queue string
		keys  []string
	)

	c := &cobra.Command{
		Use:   "events",
		Short: "Tail reservation events from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, err := rabbit.Dial(ctx, e.cfg.RabbitURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			consumer, err := rabbit.NewConsumer(conn, queue, keys...)
			if err != nil {
				return err
			}
			defer consumer.Close()

			deliveries, err := consumer.Consume(ctx)
			if err != nil {
				return err
			}
			for d := range deliveries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", d.RoutingKey, d.MessageId, d.Body)
				if err := d.Ack(false); err != nil {
					return err
				}
			}
			return nil
		},
	}
	c.Flags().StringVar(&queue, "queue", "smarthostctl.tail", "queue to declare and consume")
	c.Flags().StringSliceVar(&keys, "key", []string{"reservation.#", "notification.#"}, "routing keys to bind")
	return c
}
