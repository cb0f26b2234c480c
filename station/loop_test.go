package station

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mklimuk/tagsensors/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	calls atomic.Int32
	err   error
	order *[]string
	name  string
}

func (c *countingTicker) Tick(ctx context.Context) error {
	c.calls.Add(1)
	if c.order != nil {
		*c.order = append(*c.order, c.name)
	}
	return c.err
}

func TestLoop_StepOrder(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := timer.NewPool(timer.WithClock(func() time.Time { return now }))
	var order []string
	tm, err := pool.New(func() { order = append(order, "timer") })
	require.NoError(t, err)
	require.NoError(t, tm.Set(timer.OneShot, time.Second))

	a := &countingTicker{order: &order, name: "a", err: errors.New("boom")}
	b := &countingTicker{order: &order, name: "b"}
	l := NewLoop(pool, []Ticker{a, b})

	l.Step(context.Background())
	assert.Equal(t, []string{"a", "b"}, order)

	now = now.Add(time.Second)
	l.Step(context.Background())
	assert.Equal(t, []string{"a", "b", "timer", "a", "b"}, order)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	pool := timer.NewPool()
	tk := &countingTicker{}
	l := NewLoop(pool, []Ticker{tk}, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	assert.Eventually(t, func() bool { return tk.calls.Load() > 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_RunFiresTimers(t *testing.T) {
	pool := timer.NewPool()
	var fired atomic.Int32
	tm, err := pool.New(func() { fired.Add(1) })
	require.NoError(t, err)
	require.NoError(t, tm.Set(timer.Periodic, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewLoop(pool, nil, WithInterval(time.Hour)).Run(ctx) }()

	assert.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, time.Millisecond)
}
