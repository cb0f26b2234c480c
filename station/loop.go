// Package station runs the cooperative main loop of the tag: it drives the
// software timers and gives every sensor a chance to do pending work.
package station

import (
	"context"
	"log/slog"
	"time"
)

type Ticker interface {
	Tick(ctx context.Context) error
}

// Timers is the timer pool serviced by the loop.
type Timers interface {
	Tick()
	NextDue() (time.Time, bool)
}

type Loop struct {
	timers   Timers
	tickers  []Ticker
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Loop)

// WithInterval sets the longest time between two iterations. Default 10ms.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		l.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

func NewLoop(timers Timers, tickers []Ticker, opts ...Option) *Loop {
	l := &Loop{
		timers:   timers,
		tickers:  tickers,
		interval: 10 * time.Millisecond,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Step runs one iteration: due timers first, then every ticker in order.
func (l *Loop) Step(ctx context.Context) {
	l.timers.Tick()
	for _, t := range l.tickers {
		if err := t.Tick(ctx); err != nil {
			l.log.Warn("tick failed", "error", err)
		}
	}
}

// Run iterates until ctx is done. It sleeps until the next timer is due but
// never longer than the loop interval.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Step(ctx)
		wait := l.interval
		if due, ok := l.timers.NextDue(); ok {
			if d := due.Sub(l.now()); d < wait {
				wait = max(d, 0)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
