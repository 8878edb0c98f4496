package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacer_DefaultsNonPositiveInterval(t *testing.T) {
	p := NewPacer(0)
	assert.Equal(t, DefaultPaceInterval, p.interval)

	p = NewPacer(-time.Second)
	assert.Equal(t, DefaultPaceInterval, p.interval)
}

func TestPacer_FirstCallDoesNotSleep(t *testing.T) {
	p := NewPacer(100 * time.Millisecond)
	slept := time.Duration(0)
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	require.NoError(t, p.Wait(context.Background()))
	assert.Zero(t, slept)
}

func TestPacer_SpacesSuccessiveCalls(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPacer(100 * time.Millisecond)
	p.now = func() time.Time { return now }

	var sleeps []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	// Three back-to-back calls at the same instant: the first goes through,
	// the second waits one interval, the third waits two.
	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))
	require.NoError(t, p.Wait(context.Background()))

	require.Len(t, sleeps, 2)
	assert.Equal(t, 100*time.Millisecond, sleeps[0])
	assert.Equal(t, 200*time.Millisecond, sleeps[1])
}

func TestPacer_NoWaitAfterIntervalElapsed(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPacer(100 * time.Millisecond)
	p.now = func() time.Time { return now }

	var sleeps int
	p.sleep = func(_ context.Context, _ time.Duration) error {
		sleeps++
		return nil
	}

	require.NoError(t, p.Wait(context.Background()))
	now = now.Add(150 * time.Millisecond)
	require.NoError(t, p.Wait(context.Background()))
	assert.Zero(t, sleeps)
}

func TestPacer_WaitHonoursContext(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Wait(ctx))

	cancel()
	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
