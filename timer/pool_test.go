package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestPool() (*Pool, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewPool(WithClock(clock.Now)), clock
}

func TestPool_Periodic(t *testing.T) {
	pool, clock := newTestPool()
	fired := 0
	tm, err := pool.New(func() { fired++ })
	require.NoError(t, err)
	assert.False(t, tm.Running())

	require.NoError(t, tm.Set(Periodic, 100*time.Millisecond))
	assert.True(t, tm.Running())

	clock.Advance(99 * time.Millisecond)
	pool.Tick()
	assert.Equal(t, 0, fired)

	clock.Advance(time.Millisecond)
	pool.Tick()
	assert.Equal(t, 1, fired)
	assert.True(t, tm.Running())

	next, ok := pool.NextDue()
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(100*time.Millisecond), next)

	clock.Advance(100 * time.Millisecond)
	pool.Tick()
	assert.Equal(t, 2, fired)
}

func TestPool_PeriodicDropsMissedPeriods(t *testing.T) {
	pool, clock := newTestPool()
	fired := 0
	tm, err := pool.New(func() { fired++ })
	require.NoError(t, err)
	require.NoError(t, tm.Set(Periodic, 10*time.Millisecond))

	clock.Advance(55 * time.Millisecond)
	pool.Tick()
	assert.Equal(t, 1, fired)
	next, ok := pool.NextDue()
	require.True(t, ok)
	assert.Equal(t, clock.now.Add(10*time.Millisecond), next)
}

func TestPool_OneShot(t *testing.T) {
	pool, clock := newTestPool()
	fired := 0
	var tm *Timer
	tm, err := pool.New(func() {
		fired++
		assert.False(t, tm.Running())
	})
	require.NoError(t, err)
	require.NoError(t, tm.Set(OneShot, 5*time.Millisecond))

	clock.Advance(10 * time.Millisecond)
	pool.Tick()
	pool.Tick()
	assert.Equal(t, 1, fired)
	_, ok := pool.NextDue()
	assert.False(t, ok)

	require.NoError(t, tm.Reset())
	clock.Advance(5 * time.Millisecond)
	pool.Tick()
	assert.Equal(t, 2, fired)
}

func TestPool_CallbackOrderAndReentrancy(t *testing.T) {
	pool, clock := newTestPool()
	var order []string
	var late *Timer
	late, err := pool.New(func() {
		order = append(order, "late")
		assert.NoError(t, late.Cancel())
	})
	require.NoError(t, err)
	early, err := pool.New(func() { order = append(order, "early") })
	require.NoError(t, err)
	require.NoError(t, late.Set(Periodic, 20*time.Millisecond))
	require.NoError(t, early.Set(OneShot, 10*time.Millisecond))

	clock.Advance(30 * time.Millisecond)
	pool.Tick()
	assert.Equal(t, []string{"early", "late"}, order)
	assert.False(t, late.Running())
}

func TestPool_Errors(t *testing.T) {
	pool, _ := newTestPool()
	_, err := pool.New(nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)

	tm, err := pool.New(func() {})
	require.NoError(t, err)
	assert.ErrorIs(t, tm.Set(Periodic, 0), ErrInvalidTime)
	assert.ErrorIs(t, tm.Reset(), ErrInvalidTime)

	require.NoError(t, tm.Term())
	assert.ErrorIs(t, tm.Set(Periodic, time.Second), ErrInvalidHandle)
	assert.ErrorIs(t, tm.Cancel(), ErrInvalidHandle)
	assert.ErrorIs(t, tm.Term(), ErrInvalidHandle)
	assert.False(t, tm.Running())

	var nilTimer *Timer
	assert.ErrorIs(t, nilTimer.Cancel(), ErrInvalidHandle)
}

func TestPool_Capacity(t *testing.T) {
	pool, _ := newTestPool()
	timers := make([]*Timer, 0, Capacity)
	for i := 0; i < Capacity; i++ {
		tm, err := pool.New(func() {})
		require.NoError(t, err)
		timers = append(timers, tm)
	}
	assert.Equal(t, 0, pool.Free())
	_, err := pool.New(func() {})
	assert.ErrorIs(t, err, ErrNoFreeTimer)

	require.NoError(t, timers[3].Term())
	assert.Equal(t, 1, pool.Free())
	_, err = pool.New(func() {})
	assert.NoError(t, err)
}

func TestPool_CancelAll(t *testing.T) {
	pool, clock := newTestPool()
	fired := 0
	for i := 0; i < 3; i++ {
		tm, err := pool.New(func() { fired++ })
		require.NoError(t, err)
		require.NoError(t, tm.Set(Periodic, time.Millisecond))
	}
	pool.CancelAll()
	clock.Advance(time.Second)
	pool.Tick()
	assert.Equal(t, 0, fired)
	assert.Equal(t, Capacity-3, pool.Free())
}
