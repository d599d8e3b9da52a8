package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute).WithClock(clk.Now), clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("tushare")
	b.RecordFailure("tushare")
	assert.True(t, b.Allow("tushare"))

	b.RecordFailure("tushare")
	assert.False(t, b.Allow("tushare"))
	assert.Equal(t, StateOpen, b.State("tushare"))
	assert.True(t, b.Allow("akshare"), "keys are independent")
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure("src")
	b.RecordFailure("src")

	clk.Advance(59 * time.Second)
	assert.False(t, b.Allow("src"))

	clk.Advance(time.Second)
	require.True(t, b.Allow("src"))
	assert.Equal(t, StateHalfOpen, b.State("src"))
	assert.False(t, b.Allow("src"), "only one trial call at a time")

	b.RecordSuccess("src")
	assert.Equal(t, StateClosed, b.State("src"))
	assert.True(t, b.Allow("src"))
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure("src")
	b.RecordFailure("src")
	clk.Advance(time.Minute)
	require.True(t, b.Allow("src"))

	b.RecordFailure("src")
	assert.Equal(t, StateOpen, b.State("src"))
	assert.False(t, b.Allow("src"))
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.RecordFailure("src")
	b.RecordFailure("src")
	b.RecordSuccess("src")
	b.RecordFailure("src")
	assert.Equal(t, StateClosed, b.State("src"))
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(1)
	boom := errors.New("boom")

	require.NoError(t, b.Do("src", func() error { return nil }))
	assert.ErrorIs(t, b.Do("src", func() error { return boom }), boom)

	called := false
	err := b.Do("src", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_OnTransition(t *testing.T) {
	b, clk := newTestBreaker(1)
	var got []string
	b.OnTransition(func(key string, from, to State) {
		got = append(got, key+":"+from.String()+"->"+to.String())
	})

	b.RecordFailure("src")
	clk.Advance(time.Minute)
	b.Allow("src")
	b.RecordSuccess("src")

	assert.Equal(t, []string{
		"src:closed->open",
		"src:open->half_open",
		"src:half_open->closed",
	}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
