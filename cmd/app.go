package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dageev-uae/tenis-schedule/internal/config"
	"github.com/dageev-uae/tenis-schedule/internal/court"
	"github.com/dageev-uae/tenis-schedule/internal/db"
	"github.com/dageev-uae/tenis-schedule/internal/logging"
	"github.com/dageev-uae/tenis-schedule/internal/migrate"
	"github.com/dageev-uae/tenis-schedule/internal/notify"
)

// app bundles what every subcommand needs: config, logger and (lazily) the
// database.
type app struct {
	cfg config.Config
	log *zap.Logger
	db  *db.DB
}

func newApp() (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return &app{cfg: cfg, log: log}, nil
}

// openDB connects and applies pending migrations.
func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	d, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate.Up(ctx, d, a.log); err != nil {
		d.Close()
		return nil, err
	}
	a.db = d
	return d, nil
}

func (a *app) courtClient() *court.Client {
	return court.New(a.cfg.Court, nil, a.log.Named("court"))
}

// notifier logs every message and, when RABBITMQ_URL is set, also publishes
// it. The returned func closes the broker connection.
func (a *app) notifier() (notify.Notifier, func()) {
	logN := notify.NewLog(a.log.Named("notify"))
	if a.cfg.RabbitMQURL == "" {
		return logN, func() {}
	}
	mq := notify.NewAMQP(a.cfg.RabbitMQURL, a.cfg.NotifyQueue, a.log.Named("amqp"))
	return notify.Multi{logN, mq}, func() { _ = mq.Close() }
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	_ = a.log.Sync()
}
