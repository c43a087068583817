package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dageev-uae/tenis-schedule/internal/auth"
	"github.com/dageev-uae/tenis-schedule/internal/bookings"
	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/fetcher"
	"github.com/dageev-uae/tenis-schedule/internal/lock"
	"github.com/dageev-uae/tenis-schedule/internal/scheduler"
	"github.com/dageev-uae/tenis-schedule/internal/slots"
	"github.com/dageev-uae/tenis-schedule/internal/web"
)

func newServerCmd() *cobra.Command {
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking scheduler, nightly slot prefetch and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			cfg, log := a.cfg, a.log

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := a.openDB(ctx)
			if err != nil {
				return err
			}

			bookingRepo := bookings.NewRepo(d)
			slotRepo := slots.NewRepo(d)
			client := a.courtClient()
			notifier, closeNotifier := a.notifier()
			defer closeNotifier()

			clk := clock.System{}
			f := &fetcher.Fetcher{
				Remote:   client,
				Catalog:  slotRepo,
				Notifier: notifier,
				Courts:   cfg.Court.Courts,
				AdminID:  cfg.AdminRecipientID,
				Location: cfg.Location,
				Clock:    clk,
				Log:      log.Named("fetcher"),
			}

			schedCfg := scheduler.DefaultConfig()
			schedCfg.Interval = cfg.ScanInterval
			schedCfg.SignalWait = cfg.SignalWait
			schedCfg.DeadlineLead = cfg.DeadlineLead
			schedCfg.Location = cfg.Location
			s := &scheduler.Scheduler{
				Store:    bookingRepo,
				Remote:   client,
				Resolver: slots.Resolver{Catalog: slotRepo, Courts: cfg.Court.Courts, DefaultSlotID: cfg.DefaultSlotID},
				Signals:  f,
				Notifier: notifier,
				Clock:    clk,
				Log:      log.Named("scheduler"),
				Config:   schedCfg,
			}
			prefetch := &scheduler.Prefetch{
				Fetcher:   f,
				Spec:      cfg.PrefetchCron,
				DaysAhead: schedCfg.DeadlineDays,
				Location:  cfg.Location,
				Clock:     clk,
				Log:       log.Named("prefetch"),
			}

			rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return err
			}
			var lockClient lock.Client
			if rdb != nil {
				defer rdb.Close()
				lockClient = rdb
			}
			leader := lock.New(lockClient, lock.DefaultKey, 0, log.Named("lock"))

			g, gctx := errgroup.WithContext(ctx)

			// Only the lock holder runs the scan loop and the nightly fetch.
			g.Go(func() error {
				return leader.Hold(gctx, func(ctx context.Context) error {
					if err := prefetch.Start(ctx); err != nil {
						return err
					}
					return s.Run(ctx)
				})
			})

			if !noWeb {
				hashKey, blockKey, err := cfg.CookieKeys()
				if err != nil {
					return err
				}
				ws := &web.Server{
					Sessions:   auth.NewSessions(hashKey, blockKey),
					Users:      auth.NewUsers(d),
					Bookings:   bookingRepo,
					Scheduler:  s,
					Courts:     cfg.Court.Courts,
					Location:   cfg.Location,
					Clock:      clk,
					UrgentDays: schedCfg.UrgentDays,
					Log:        log.Named("web"),
				}
				g.Go(func() error {
					return web.Start(gctx, cfg.ListenAddr, ws.Routes(), log.Named("web"))
				})
			}

			log.Info("courtsched started",
				zap.String("version", Version),
				zap.String("timezone", cfg.Location.String()),
				zap.Ints("courts", cfg.CourtNumbers()),
				zap.Bool("redis_lock", leader.Enabled()),
				zap.Bool("rabbitmq", cfg.RabbitMQURL != ""))

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("courtsched stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWeb, "no-web", false, "run only the scheduler, without the JSON API")
	return cmd
}
