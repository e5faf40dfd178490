package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeaconEmitsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	b := NewBeacon("test", 10*time.Millisecond, func() error {
		calls.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		b.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	b.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no emissions after Stop")
	assert.Equal(t, int(after), b.Stats().Sent)
	assert.False(t, b.Stats().LastSent.IsZero())
}

func TestBeaconEmitsImmediately(t *testing.T) {
	var calls atomic.Int32
	b := NewBeacon("test", time.Hour, func() error {
		calls.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)
	defer cancel()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestBeaconCountsFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := NewBeacon("test", 5*time.Millisecond, func() error {
		if fail.Load() {
			return errors.New("not in group")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	require.Eventually(t, func() bool { return b.Stats().Failed >= 2 }, time.Second, time.Millisecond)
	assert.Zero(t, b.Stats().Sent)

	fail.Store(false)
	assert.Eventually(t, func() bool { return b.Stats().Sent >= 1 }, time.Second, time.Millisecond)
}

func TestWatchdogExpires(t *testing.T) {
	fired := make(chan struct{}, 2)
	w := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })

	w.Arm()
	assert.True(t, w.Armed())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not expire")
	}
	assert.False(t, w.Armed())

	select {
	case <-fired:
		t.Fatal("watchdog expired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchdogRenewPostponesExpiry(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(100*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		assert.True(t, w.Renew())
	}
	assert.Zero(t, fired.Load(), "renewed watchdog must not expire")

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
}

func TestWatchdogRenewRequiresArm(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(10*time.Millisecond, func() { fired.Add(1) })

	assert.False(t, w.Renew())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestWatchdogStop(t *testing.T) {
	var fired atomic.Int32
	w := NewWatchdog(10*time.Millisecond, func() { fired.Add(1) })

	w.Arm()
	w.Stop()
	assert.False(t, w.Armed())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
