package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dageev-uae/tenis-schedule/internal/auth"
	"github.com/dageev-uae/tenis-schedule/internal/bookings"
	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/db"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage court booking requests (non-UI)",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingCancelCmd())
	return cmd
}

// userFlags resolves --user-id or --username to a user id.
type userFlags struct {
	id       int64
	username string
}

func (u *userFlags) register(c *cobra.Command) {
	c.Flags().Int64Var(&u.id, "user-id", 0, "user id (from DB)")
	c.Flags().StringVar(&u.username, "username", "", "username, instead of --user-id")
	c.MarkFlagsOneRequired("user-id", "username")
	c.MarkFlagsMutuallyExclusive("user-id", "username")
}

func (u *userFlags) resolve(ctx context.Context, d *db.DB) (int64, error) {
	if u.id > 0 {
		return u.id, nil
	}
	id, err := auth.NewUsers(d).IDByUsername(ctx, u.username)
	if err != nil {
		return 0, fmt.Errorf("user %q: %w", u.username, err)
	}
	return id, nil
}

func newBookingCreateCmd() *cobra.Command {
	var (
		user   userFlags
		date   string
		at     string
		courtN int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Queue a booking; it runs as soon as the date is within reach",
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
			uid, err := user.resolve(ctx, d)
			if err != nil {
				return err
			}

			b, err := bookings.Parse(uid, date, at, courtN)
			if err != nil {
				return err
			}
			if _, ok := a.cfg.Court.Courts[b.CourtNumber]; !ok {
				return fmt.Errorf("unknown court %d (configured: %v)", b.CourtNumber, a.cfg.CourtNumbers())
			}
			days := clock.DaysBetween(clock.System{}.Now().In(a.cfg.Location), b.TargetDate)
			if days < 0 {
				return fmt.Errorf("date %s already passed", b.DateLabel())
			}

			id, err := bookings.NewRepo(d).Create(ctx, b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created booking id=%d date=%s time=%s court=%d days_ahead=%d\n",
				id, b.DateLabel(), b.TimeLabel(), b.CourtNumber, days)
			return nil
		},
	}

	user.register(c)
	c.Flags().StringVar(&date, "date", "", "court date YYYY-MM-DD")
	c.Flags().StringVar(&at, "time", "", "slot start time HH:MM (empty books the whole day slot)")
	c.Flags().IntVar(&courtN, "court", bookings.DefaultCourt, "court number")
	_ = c.MarkFlagRequired("date")
	return c
}

func newBookingListCmd() *cobra.Command {
	var user userFlags
	c := &cobra.Command{
		Use:   "list",
		Short: "List bookings for a user",
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
			uid, err := user.resolve(ctx, d)
			if err != nil {
				return err
			}

			bs, err := bookings.NewRepo(d).ListByUser(ctx, uid)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tTIME\tCOURT\tSTATUS\tREASON")
			for _, b := range bs {
				reason := ""
				if b.StatusReason != nil {
					reason = *b.StatusReason
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", b.ID, b.DateLabel(), b.TimeLabel(), b.CourtNumber, b.Status, reason)
			}
			return w.Flush()
		},
	}
	user.register(c)
	return c
}

func newBookingCancelCmd() *cobra.Command {
	var (
		user userFlags
		id   int64
	)
	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending booking",
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
			uid, err := user.resolve(ctx, d)
			if err != nil {
				return err
			}

			ok, err := bookings.NewRepo(d).Delete(ctx, id, uid)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no pending booking id=%d for this user", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled booking id=%d\n", id)
			return nil
		},
	}
	user.register(c)
	c.Flags().Int64Var(&id, "id", 0, "booking id")
	_ = c.MarkFlagRequired("id")
	return c
}
