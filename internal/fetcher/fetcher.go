// Package fetcher loads the slot catalog for a target date as soon as the
// remote system releases it at local midnight.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dageev-uae/tenis-schedule/internal/clock"
	"github.com/dageev-uae/tenis-schedule/internal/court"
	"github.com/dageev-uae/tenis-schedule/internal/notify"
	"github.com/dageev-uae/tenis-schedule/internal/slots"
)

type State int

const (
	StateIdle State = iota
	StateWaiting
	StateFetching
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting_for_deadline"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Remote interface {
	Authenticate(ctx context.Context) bool
	FetchSlots(ctx context.Context, date time.Time, amenityID string) ([]court.Slot, error)
}

type Catalog interface {
	InsertIfAbsent(ctx context.Context, e slots.Entry) (bool, error)
}

// Report summarizes a finished run.
type Report struct {
	Date         time.Time
	SlotsByCourt map[int][]string
	NewSlots     int
	Err          error
}

// Run is one fetch attempt for one target date.
type Run struct {
	date   time.Time
	signal *Signal

	mu     sync.Mutex
	state  State
	report Report
}

func newRun(date time.Time) *Run {
	return &Run{date: date, signal: NewSignal(), report: Report{Date: date}}
}

func (r *Run) Date() time.Time { return r.date }

func (r *Run) Signal() *Signal { return r.signal }

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Report is only complete once the signal has fired.
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := r.report
	rep.SlotsByCourt = make(map[int][]string, len(r.report.SlotsByCourt))
	for k, v := range r.report.SlotsByCourt {
		cp := make([]string, len(v))
		copy(cp, v)
		rep.SlotsByCourt[k] = cp
	}
	return rep
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

type Fetcher struct {
	Remote   Remote
	Catalog  Catalog
	Notifier notify.Notifier
	Courts   map[int]string
	// AdminID receives fetch summaries and failures; zero disables them.
	AdminID  int64
	Location *time.Location
	Clock    clock.Clock
	Log      *zap.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

func dateKey(d time.Time) string { return d.Format("2006-01-02") }

// Schedule starts a run that sleeps until the next local midnight and then
// fetches slots for date. Only one run exists per date; later calls return it.
func (f *Fetcher) Schedule(ctx context.Context, date time.Time) *Run {
	date = clock.Date(date)

	f.mu.Lock()
	if f.runs == nil {
		f.runs = map[string]*Run{}
	}
	if r, ok := f.runs[dateKey(date)]; ok {
		f.mu.Unlock()
		return r
	}
	r := newRun(date)
	f.runs[dateKey(date)] = r
	f.mu.Unlock()

	go f.execute(ctx, r, true)
	return r
}

// FetchNow fetches slots for date immediately and blocks until done. The run
// is registered only if no run exists for that date yet.
func (f *Fetcher) FetchNow(ctx context.Context, date time.Time) *Run {
	date = clock.Date(date)
	r := newRun(date)

	f.mu.Lock()
	if f.runs == nil {
		f.runs = map[string]*Run{}
	}
	if _, ok := f.runs[dateKey(date)]; !ok {
		f.runs[dateKey(date)] = r
	}
	f.mu.Unlock()

	f.execute(ctx, r, false)
	return r
}

// SignalFor returns the completion signal of the run registered for date.
func (f *Fetcher) SignalFor(date time.Time) (*Signal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[dateKey(clock.Date(date))]
	if !ok {
		return nil, false
	}
	return r.signal, true
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}

func (f *Fetcher) clk() clock.Clock {
	if f.Clock == nil {
		return clock.System{}
	}
	return f.Clock
}

func (f *Fetcher) loc() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

func (f *Fetcher) execute(ctx context.Context, r *Run, wait bool) {
	log := f.logger().With(zap.String("date", dateKey(r.date)))
	day := dateKey(r.date)

	defer r.signal.Fire()
	defer func() {
		if p := recover(); p != nil {
			log.Error("slot fetch panicked", zap.Any("panic", p))
			f.fail(ctx, r, fmt.Errorf("panic: %v", p))
		}
	}()

	if wait {
		r.setState(StateWaiting)
		now := f.clk().Now().In(f.loc())
		delay := clock.UntilMidnight(now)
		log.Info("slot fetch waiting for midnight", zap.Duration("delay", delay), zap.Time("now", now))
		select {
		case <-f.clk().After(delay):
		case <-ctx.Done():
			log.Warn("slot fetch cancelled before midnight")
			r.mu.Lock()
			r.state = StateFailed
			r.report.Err = ctx.Err()
			r.mu.Unlock()
			return
		}
	}

	r.setState(StateFetching)
	log.Info("fetching slots")

	if !f.Remote.Authenticate(ctx) {
		log.Error("slot fetch authentication failed")
		f.fail(ctx, r, fmt.Errorf("authentication failed"))
		return
	}

	byCourt := make(map[int][]string, len(f.Courts))
	saved := 0
	for _, n := range sortedCourts(f.Courts) {
		amenityID := f.Courts[n]
		fetched, err := f.Remote.FetchSlots(ctx, r.date, amenityID)
		if err != nil {
			f.fail(ctx, r, fmt.Errorf("court %d: %w", n, err))
			return
		}
		log.Info("court slots fetched", zap.Int("court", n), zap.Int("count", len(fetched)))

		listed := make([]string, 0, len(fetched))
		for _, s := range fetched {
			e := slots.Entry{
				SlotID:    s.ID,
				AmenityID: amenityID,
				StartTime: slots.NormalizeTime(s.StartTime),
				EndTime:   slots.NormalizeTime(s.EndTime),
			}
			inserted, err := f.Catalog.InsertIfAbsent(ctx, e)
			if err != nil {
				f.fail(ctx, r, fmt.Errorf("court %d: %w", n, err))
				return
			}
			if inserted {
				saved++
			} else {
				log.Debug("slot already known", zap.String("slot_id", s.ID))
			}
			listed = append(listed, e.StartTime+"-"+e.EndTime)
		}
		byCourt[n] = listed
	}

	r.mu.Lock()
	r.state = StateDone
	r.report.SlotsByCourt = byCourt
	r.report.NewSlots = saved
	rep := r.report
	r.mu.Unlock()

	log.Info("slot fetch completed", zap.Int("new_slots", saved))
	f.notifyAdmin(ctx, Summary(day, rep.SlotsByCourt, rep.NewSlots))
}

func (f *Fetcher) fail(ctx context.Context, r *Run, err error) {
	r.mu.Lock()
	r.state = StateFailed
	r.report.Err = err
	r.mu.Unlock()

	f.logger().Error("slot fetch failed", zap.String("date", dateKey(r.date)), zap.Error(err))
	f.notifyAdmin(ctx, fmt.Sprintf("Failed to load slots for %s: %v", dateKey(r.date), err))
}

func (f *Fetcher) notifyAdmin(ctx context.Context, text string) {
	if f.AdminID == 0 || f.Notifier == nil {
		return
	}
	f.Notifier.Deliver(ctx, f.AdminID, text)
}

// Summary renders the admin message for a completed fetch.
func Summary(day string, byCourt map[int][]string, saved int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Slots loaded for %s:\n\n", day)
	courts := make([]int, 0, len(byCourt))
	for n := range byCourt {
		courts = append(courts, n)
	}
	sort.Ints(courts)
	for _, n := range courts {
		fmt.Fprintf(&b, "Court %d:\n", n)
		if len(byCourt[n]) == 0 {
			b.WriteString("  no slots\n")
		}
		for _, s := range byCourt[n] {
			fmt.Fprintf(&b, "  %s\n", s)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Total saved: %d new slots", saved)
	return b.String()
}

func sortedCourts(m map[int]string) []int {
	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
