package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smarthostctl",
		Short:         "Operational tooling for SmartHost reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newOutboxCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newEventsCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smarthostctl %s (%s)\n", Version, CommitSHA)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
