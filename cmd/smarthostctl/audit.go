package main

import (
	"fmt"
	"strconv"
	"time"

	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <reservation-id>",
		Short: "Show the audit trail of a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid reservation id %q", args[0])
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			client, db, err := e.openMongo(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect(cmd.Context())

			entries, err := mongoadapter.NewAuditLogger(db, e.logger).Recent(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-28s %v\n", entry.Timestamp.Format(time.RFC3339), entry.Action, entry.Data)
			}
			return nil
		},
	}
}
