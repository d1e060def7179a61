package main

import (
	"fmt"
	"text/tabwriter"

	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the apartment catalog",
	}
	cmd.AddCommand(newCatalogUpsertCmd())
	cmd.AddCommand(newCatalogListCmd())
	return cmd
}

func newCatalogUpsertCmd() *cobra.Command {
	var (
		id        int64
		name      string
		maxGuests int
		basePrice string
	)

	c := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace an apartment",
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(basePrice)
			if err != nil || price.IsNegative() {
				return fmt.Errorf("invalid --base-price %q", basePrice)
			}
			if id <= 0 || name == "" || maxGuests < 1 {
				return fmt.Errorf("--id, --name and --max-guests are required")
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

			catalog := mongoadapter.NewCatalogRepository(db, e.logger)
			return catalog.UpsertApartment(cmd.Context(), domain.Apartment{
				ID:        id,
				Name:      name,
				MaxGuests: maxGuests,
				BasePrice: price,
			})
		},
	}
	c.Flags().Int64Var(&id, "id", 0, "apartment id")
	c.Flags().StringVar(&name, "name", "", "display name")
	c.Flags().IntVar(&maxGuests, "max-guests", 0, "maximum number of guests")
	c.Flags().StringVar(&basePrice, "base-price", "0", "nightly base price")
	return c
}

func newCatalogListCmd() *cobra.Command {
	var minGuests int

	c := &cobra.Command{
		Use:   "list",
		Short: "List apartments",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			client, db, err := e.openMongo(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect(cmd.Context())

			apartments, err := mongoadapter.NewCatalogRepository(db, e.logger).ListApartments(cmd.Context(), minGuests)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMAX GUESTS\tBASE PRICE")
			for _, a := range apartments {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", a.ID, a.Name, a.MaxGuests, a.BasePrice.StringFixed(2))
			}
			return tw.Flush()
		},
	}
	c.Flags().IntVar(&minGuests, "min-guests", 0, "only apartments that fit this many guests")
	return c
}
