package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/fetcher"
)

const DefaultPrefetchSpec = "55 23 * * *"

type SlotFetcher interface {
	Schedule(ctx context.Context, date time.Time) *fetcher.Run
}

// Prefetch schedules the nightly slot fetch for the date that opens at the
// coming midnight.
type Prefetch struct {
	Fetcher   SlotFetcher
	Spec      string
	DaysAhead int
	Location  *time.Location
	Clock     clock.Clock
	Log       *zap.Logger

	cron *cron.Cron
}

// Start registers the cron job and, when the process starts after today's
// trigger time, schedules the fetch right away. The job stops with ctx.
func (p *Prefetch) Start(ctx context.Context) error {
	sched, err := cron.ParseStandard(p.spec())
	if err != nil {
		return fmt.Errorf("parse prefetch spec %q: %w", p.spec(), err)
	}

	c := cron.New(cron.WithLocation(p.loc()))
	c.Schedule(sched, cron.FuncJob(func() { p.Trigger(ctx) }))
	c.Start()
	p.cron = c

	if p.missedToday(sched, p.clk().Now().In(p.loc())) {
		p.logger().Info("started after prefetch time, scheduling catch-up fetch")
		p.Trigger(ctx)
	}

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Trigger schedules the fetch for the target date of now.
func (p *Prefetch) Trigger(ctx context.Context) *fetcher.Run {
	target := p.Target(p.clk().Now())
	p.logger().Info("scheduling slot fetch", zap.String("date", target.Format("2006-01-02")))
	return p.Fetcher.Schedule(ctx, target)
}

// Target is the calendar date DaysAhead days after now's local date.
func (p *Prefetch) Target(now time.Time) time.Time {
	return clock.Date(now.In(p.loc())).AddDate(0, 0, p.daysAhead())
}

// missedToday reports whether the schedule already fired earlier on now's
// local date.
func (p *Prefetch) missedToday(sched cron.Schedule, now time.Time) bool {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	first := sched.Next(start.Add(-time.Second))
	return !first.After(now) && first.Before(clock.NextMidnight(now))
}

func (p *Prefetch) spec() string {
	if p.Spec == "" {
		return DefaultPrefetchSpec
	}
	return p.Spec
}

func (p *Prefetch) daysAhead() int {
	if p.DaysAhead <= 0 {
		return 3
	}
	return p.DaysAhead
}

func (p *Prefetch) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p *Prefetch) clk() clock.Clock {
	if p.Clock == nil {
		return clock.System{}
	}
	return p.Clock
}

func (p *Prefetch) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
