package timer

import (
	"errors"
	"slices"
	"sync"
	"time"
)

// Capacity is the number of timers a pool can hand out.
const Capacity = 24

var (
	ErrNoFreeTimer   = errors.New("timer: no free timer")
	ErrInvalidHandle = errors.New("timer: invalid handle")
	ErrInvalidTime   = errors.New("timer: invalid time")
)

type Mode int

const (
	OneShot Mode = iota
	Periodic
)

func (m Mode) String() string {
	if m == Periodic {
		return "periodic"
	}
	return "one-shot"
}

// Pool is a fixed-size set of software timers. Timers never fire on their
// own: the owner calls Tick from its scheduling loop and due callbacks run
// synchronously inside that call.
type Pool struct {
	mx    sync.Mutex
	now   func() time.Time
	slots [Capacity]*Timer
}

type Option func(*Pool)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

func NewPool(opts ...Option) *Pool {
	p := &Pool{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Timer struct {
	pool    *Pool
	slot    int
	cb      func()
	mode    Mode
	period  time.Duration
	due     time.Time
	running bool
	armed   bool
}

// New takes a free slot. The timer is not running until Set is called.
func (p *Pool) New(cb func()) (*Timer, error) {
	if cb == nil {
		return nil, ErrInvalidHandle
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	for i, t := range p.slots {
		if t == nil {
			p.slots[i] = &Timer{pool: p, slot: i, cb: cb}
			return p.slots[i], nil
		}
	}
	return nil, ErrNoFreeTimer
}

// valid must be called with the pool lock held.
func (t *Timer) valid() bool {
	return t != nil && t.pool != nil && t.pool.slots[t.slot] == t
}

// Set arms the timer to fire after d, and every d afterwards in periodic mode.
func (t *Timer) Set(mode Mode, d time.Duration) error {
	if t == nil || t.pool == nil {
		return ErrInvalidHandle
	}
	t.pool.mx.Lock()
	defer t.pool.mx.Unlock()
	if !t.valid() {
		return ErrInvalidHandle
	}
	if d <= 0 {
		return ErrInvalidTime
	}
	t.mode = mode
	t.period = d
	t.armed = true
	t.due = t.pool.now().Add(d)
	t.running = true
	return nil
}

// Reset restarts the timer with its last mode and period.
func (t *Timer) Reset() error {
	if t == nil || t.pool == nil {
		return ErrInvalidHandle
	}
	t.pool.mx.Lock()
	defer t.pool.mx.Unlock()
	if !t.valid() {
		return ErrInvalidHandle
	}
	if !t.armed {
		return ErrInvalidTime
	}
	t.due = t.pool.now().Add(t.period)
	t.running = true
	return nil
}

func (t *Timer) Running() bool {
	if t == nil || t.pool == nil {
		return false
	}
	t.pool.mx.Lock()
	defer t.pool.mx.Unlock()
	return t.valid() && t.running
}

func (t *Timer) Cancel() error {
	if t == nil || t.pool == nil {
		return ErrInvalidHandle
	}
	t.pool.mx.Lock()
	defer t.pool.mx.Unlock()
	if !t.valid() {
		return ErrInvalidHandle
	}
	t.running = false
	return nil
}

// Term cancels the timer and returns its slot to the pool. The handle is
// invalid afterwards.
func (t *Timer) Term() error {
	if t == nil || t.pool == nil {
		return ErrInvalidHandle
	}
	t.pool.mx.Lock()
	defer t.pool.mx.Unlock()
	if !t.valid() {
		return ErrInvalidHandle
	}
	t.running = false
	t.pool.slots[t.slot] = nil
	return nil
}

// CancelAll stops every timer without releasing them.
func (p *Pool) CancelAll() {
	p.mx.Lock()
	defer p.mx.Unlock()
	for _, t := range p.slots {
		if t != nil {
			t.running = false
		}
	}
}

// Tick runs the callbacks of all due timers, earliest first. Periodic timers
// are rearmed and one-shot timers stopped before their callback runs, so a
// callback may safely Set, Cancel or Term its own timer.
func (p *Pool) Tick() {
	p.mx.Lock()
	now := p.now()
	var due []*Timer
	for _, t := range p.slots {
		if t != nil && t.running && !t.due.After(now) {
			due = append(due, t)
		}
	}
	slices.SortStableFunc(due, func(a, b *Timer) int {
		return a.due.Compare(b.due)
	})
	callbacks := make([]func(), 0, len(due))
	for _, t := range due {
		if t.mode == Periodic {
			t.due = t.due.Add(t.period)
			if !t.due.After(now) {
				// missed periods are dropped rather than replayed
				t.due = now.Add(t.period)
			}
		} else {
			t.running = false
		}
		callbacks = append(callbacks, t.cb)
	}
	p.mx.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// NextDue returns the earliest deadline among running timers.
func (p *Pool) NextDue() (time.Time, bool) {
	p.mx.Lock()
	defer p.mx.Unlock()
	var next time.Time
	found := false
	for _, t := range p.slots {
		if t == nil || !t.running {
			continue
		}
		if !found || t.due.Before(next) {
			next = t.due
			found = true
		}
	}
	return next, found
}

// Free returns the number of unused slots.
func (p *Pool) Free() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	n := 0
	for _, t := range p.slots {
		if t == nil {
			n++
		}
	}
	return n
}
