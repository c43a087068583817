package fetcher

import (
	"context"
	"sync"
	"time"
)

// Signal is a one-shot completion flag. Firing it more than once is a no-op
// and every waiter, current or future, observes the same fired state.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *Signal) Done() <-chan struct{} { return s.ch }

func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires, timeout elapses or ctx is done.
// It reports whether the signal fired.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) bool {
	if s.Fired() {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return s.Fired()
	}
}
