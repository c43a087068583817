package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/fetcher"
	"github.com/dageev-uae/tenis-schedule/internal/slots"
)

func newSlotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Inspect and refresh the court slot catalog",
	}
	cmd.AddCommand(newSlotsFetchCmd())
	cmd.AddCommand(newSlotsListCmd())
	return cmd
}

func newSlotsFetchCmd() *cobra.Command {
	var date string

	c := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch slots for a date now and store new ones (default: today+3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			d, err := a.openDB(ctx)
			if err != nil {
				return err
			}

			target := clock.Date(clock.System{}.Now().In(a.cfg.Location)).AddDate(0, 0, 3)
			if date != "" {
				target, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}

			notifier, closeNotifier := a.notifier()
			defer closeNotifier()

			f := &fetcher.Fetcher{
				Remote:   a.courtClient(),
				Catalog:  slots.NewRepo(d),
				Notifier: notifier,
				Courts:   a.cfg.Court.Courts,
				AdminID:  a.cfg.AdminRecipientID,
				Location: a.cfg.Location,
				Clock:    clock.System{},
				Log:      a.log.Named("fetcher"),
			}
			rep := f.FetchNow(ctx, target).Report()
			if rep.Err != nil {
				return rep.Err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fetcher.Summary(target.Format("2006-01-02"), rep.SlotsByCourt, rep.NewSlots))
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD")
	return c
}

func newSlotsListCmd() *cobra.Command {
	var courtN int

	c := &cobra.Command{
		Use:   "list",
		Short: "List stored slots of a court",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			amenity, ok := a.cfg.Court.Courts[courtN]
			if !ok {
				return fmt.Errorf("unknown court %d (configured: %v)", courtN, a.cfg.CourtNumbers())
			}

			ctx := context.Background()
			d, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			entries, err := slots.NewRepo(d).ListByResource(ctx, amenity)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "START\tEND\tSLOT_ID\tFETCHED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.StartTime, e.EndTime, e.SlotID, e.FetchedAt.In(a.cfg.Location).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	c.Flags().IntVar(&courtN, "court", 4, "court number")
	return c
}
