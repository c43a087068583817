package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dageev-uae/tenis-schedule/internal/bookings"
	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/court"
	"github.com/dageev-uae/tenis-schedule/internal/fetcher"
	"github.com/dageev-uae/tenis-schedule/internal/notify"
	"github.com/dageev-uae/tenis-schedule/internal/slots"
)

type Store interface {
	FindPending(ctx context.Context) ([]bookings.Booking, error)
	UpdateStatus(ctx context.Context, id int64, status bookings.Status, reason string) error
}

type Remote interface {
	Authenticate(ctx context.Context) bool
	Book(ctx context.Context, date time.Time, slotID, amenityID string) court.Outcome
}

type Resolver interface {
	Resolve(ctx context.Context, courtNumber int, at *string) (slots.Resolution, error)
}

// Signals looks up the slot fetch completion signal of a target date.
type Signals interface {
	SignalFor(date time.Time) (*fetcher.Signal, bool)
}

type Config struct {
	Interval time.Duration
	// SignalWait bounds how long a batch waits for the slot fetch.
	SignalWait time.Duration
	// DeadlineLead is how close to midnight a DeadlineDays booking must be
	// before the scan commits to sleeping until midnight.
	DeadlineLead time.Duration
	Location     *time.Location
	UrgentDays   int
	DeadlineDays int
}

func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		SignalWait:   30 * time.Second,
		DeadlineLead: 3 * time.Minute,
		Location:     time.UTC,
		UrgentDays:   2,
		DeadlineDays: 3,
	}
}

// Scheduler scans pending bookings and executes those whose date is close
// enough to be bookable.
type Scheduler struct {
	Store    Store
	Remote   Remote
	Resolver Resolver
	Signals  Signals
	Notifier notify.Notifier
	Clock    clock.Clock
	Log      *zap.Logger
	Config   Config

	once sync.Once
	kick chan struct{}
}

// Kick asks the running loop for an extra scan. It never blocks.
func (s *Scheduler) Kick() {
	select {
	case s.kicks() <- struct{}{}:
	default:
	}
}

func (s *Scheduler) kicks() chan struct{} {
	s.once.Do(func() { s.kick = make(chan struct{}, 1) })
	return s.kick
}

func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	kick := s.kicks()
	t := time.NewTicker(interval)
	defer t.Stop()

	s.logger().Info("booking scheduler started", zap.Duration("interval", interval))

	// kick immediately
	s.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger().Info("booking scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.Scan(ctx)
		case <-kick:
			s.Scan(ctx)
		}
	}
}

// Scan runs one pass over the pending bookings. Panics are recovered so the
// loop survives a bad scan.
func (s *Scheduler) Scan(ctx context.Context) {
	log := s.logger().With(zap.String("scan_id", uuid.NewString()))
	defer func() {
		if p := recover(); p != nil {
			log.Error("scan panicked", zap.Any("panic", p))
		}
	}()

	pending, err := s.Store.FindPending(ctx)
	if err != nil {
		log.Error("load pending bookings failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	now := s.clk().Now().In(s.loc())
	log.Info("checking pending bookings", zap.Int("count", len(pending)), zap.Time("local_time", now))

	var urgent, deadline []bookings.Booking
	for _, b := range pending {
		days := clock.DaysBetween(now, b.TargetDate)
		switch {
		case days < 0:
			log.Info("booking date passed", zap.Int64("booking_id", b.ID), zap.String("date", b.DateLabel()))
			s.finish(ctx, log, b, bookings.StatusFailed, "date already passed",
				fmt.Sprintf("The date %s has already passed. Booking #%d was not made.", b.DateLabel(), b.ID))
		case days <= s.urgentDays():
			urgent = append(urgent, b)
		case days == s.deadlineDays() && clock.UntilMidnight(now) <= s.deadlineLead():
			deadline = append(deadline, b)
		}
	}

	if len(urgent) > 0 {
		log.Info("executing urgent bookings", zap.Int("count", len(urgent)))
		s.awaitSlots(ctx, log, urgent)
		s.execute(ctx, log, urgent)
	}

	if len(deadline) > 0 {
		for _, b := range deadline {
			s.notify(ctx, b.UserID, fmt.Sprintf("The booking date is %d days away. Booking #%d will be made in a few minutes.", s.deadlineDays(), b.ID))
		}
		delay := clock.UntilMidnight(now)
		log.Info("waiting for midnight", zap.Int("count", len(deadline)), zap.Duration("delay", delay))
		select {
		case <-s.clk().After(delay):
		case <-ctx.Done():
			log.Warn("scan cancelled before midnight", zap.Int("count", len(deadline)))
			return
		}
		s.awaitSlots(ctx, log, deadline)
		s.execute(ctx, log, deadline)
	}
}

// awaitSlots waits, once per distinct date, for a registered slot fetch to
// complete. A missing fetch or a timeout lets the batch proceed.
func (s *Scheduler) awaitSlots(ctx context.Context, log *zap.Logger, batch []bookings.Booking) {
	if s.Signals == nil {
		return
	}
	seen := map[string]bool{}
	for _, b := range batch {
		day := b.DateLabel()
		if seen[day] {
			continue
		}
		seen[day] = true

		sig, ok := s.Signals.SignalFor(b.TargetDate)
		if !ok || sig.Fired() {
			continue
		}
		log.Info("waiting for slot fetch", zap.String("date", day))
		if !sig.Wait(ctx, s.signalWait()) {
			log.Warn("slot fetch did not complete in time, proceeding anyway", zap.String("date", day), zap.Duration("waited", s.signalWait()))
		}
	}
}

// execute authenticates once for the whole batch and then books each entry
// in load order.
func (s *Scheduler) execute(ctx context.Context, log *zap.Logger, batch []bookings.Booking) {
	if !s.Remote.Authenticate(ctx) {
		log.Error("authentication failed, cannot proceed with bookings", zap.Int("count", len(batch)))
		for _, b := range batch {
			s.finish(ctx, log, b, bookings.StatusFailed, "authentication failed",
				fmt.Sprintf("Could not authenticate. Booking #%d was not made.", b.ID))
		}
		return
	}
	for _, b := range batch {
		s.process(ctx, log, b)
	}
}

func (s *Scheduler) process(ctx context.Context, log *zap.Logger, b bookings.Booking) {
	log = log.With(zap.Int64("booking_id", b.ID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("booking panicked", zap.Any("panic", p))
			s.finish(ctx, log, b, bookings.StatusFailed, fmt.Sprintf("%v", p),
				fmt.Sprintf("An error occurred while booking #%d: %v", b.ID, p))
		}
	}()

	log.Info("processing booking", zap.String("date", b.DateLabel()), zap.String("time", b.TimeLabel()), zap.Int("court", b.CourtNumber))

	res, err := s.Resolver.Resolve(ctx, b.CourtNumber, b.TargetTime)
	switch {
	case errors.Is(err, slots.ErrUnknownCourt):
		s.finish(ctx, log, b, bookings.StatusFailed, fmt.Sprintf("unknown court number: %d", b.CourtNumber),
			fmt.Sprintf("Unknown court number: %d. Booking #%d was not made.", b.CourtNumber, b.ID))
		return
	case errors.Is(err, slots.ErrSlotNotFound):
		s.finish(ctx, log, b, bookings.StatusFailed, fmt.Sprintf("slot not found for time=%s, court=%d", b.TimeLabel(), b.CourtNumber),
			fmt.Sprintf("No slot at %s for court %d. Booking #%d was not made.", b.TimeLabel(), b.CourtNumber, b.ID))
		return
	case err != nil:
		log.Error("slot lookup failed, will retry next scan", zap.Error(err))
		return
	}

	out := s.Remote.Book(ctx, b.TargetDate, res.SlotID, res.AmenityID)
	details := fmt.Sprintf("ID: %d\nDate: %s\nTime: %s\nCourt: %d", b.ID, b.DateLabel(), b.TimeLabel(), b.CourtNumber)

	switch out.Kind {
	case court.OutcomeSuccess:
		log.Info("booking successful")
		s.finish(ctx, log, b, bookings.StatusCompleted, out.Message, "Booking successful!\n\n"+details)
	case court.OutcomeAlreadyBooked:
		log.Warn("court already booked")
		s.finish(ctx, log, b, bookings.StatusFailed, out.Message, "Sorry, the court is already booked.\n\n"+details)
	default:
		log.Error("booking failed", zap.String("message", out.Message))
		s.finish(ctx, log, b, bookings.StatusFailed, out.Message, "Booking failed.\n\n"+details+"\nError: "+out.Message)
	}
}

// finish records a terminal status and then notifies the owner. A booking
// that already left pending is not notified again.
func (s *Scheduler) finish(ctx context.Context, log *zap.Logger, b bookings.Booking, status bookings.Status, reason, text string) {
	err := s.Store.UpdateStatus(ctx, b.ID, status, reason)
	switch {
	case errors.Is(err, bookings.ErrNotPending):
		log.Warn("booking already terminal, skipping notification", zap.Int64("booking_id", b.ID))
		return
	case err != nil:
		log.Error("update booking status failed", zap.Int64("booking_id", b.ID), zap.String("status", string(status)), zap.Error(err))
	default:
		log.Info("booking status updated", zap.Int64("booking_id", b.ID), zap.String("status", string(status)), zap.String("reason", reason))
	}
	s.notify(ctx, b.UserID, text)
}

func (s *Scheduler) notify(ctx context.Context, userID int64, text string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Deliver(ctx, userID, text)
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Scheduler) clk() clock.Clock {
	if s.Clock == nil {
		return clock.System{}
	}
	return s.Clock
}

func (s *Scheduler) loc() *time.Location {
	if s.Config.Location == nil {
		return time.UTC
	}
	return s.Config.Location
}

func (s *Scheduler) urgentDays() int {
	if s.Config.UrgentDays <= 0 {
		return DefaultConfig().UrgentDays
	}
	return s.Config.UrgentDays
}

func (s *Scheduler) deadlineDays() int {
	if s.Config.DeadlineDays <= 0 {
		return DefaultConfig().DeadlineDays
	}
	return s.Config.DeadlineDays
}

func (s *Scheduler) deadlineLead() time.Duration {
	if s.Config.DeadlineLead <= 0 {
		return DefaultConfig().DeadlineLead
	}
	return s.Config.DeadlineLead
}

func (s *Scheduler) signalWait() time.Duration {
	if s.Config.SignalWait <= 0 {
		return DefaultConfig().SignalWait
	}
	return s.Config.SignalWait
}
