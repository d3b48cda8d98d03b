package license

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingValidator struct {
	calls atomic.Int32
	block chan struct{}
}

func (v *countingValidator) Validate(ctx context.Context) (Outcome, error) {
	v.calls.Add(1)
	if v.block != nil {
		select {
		case <-v.block:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	return Outcome{Kind: OutcomeValid}, nil
}

func TestSchedulerValidatesImmediatelyAndPeriodically(t *testing.T) {
	v := &countingValidator{}
	h := NewScheduler(v, 10*time.Millisecond, discardLogger()).Start(context.Background())
	defer h.Stop()

	assert.Eventually(t, func() bool { return v.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerStopCancelsInFlightValidation(t *testing.T) {
	v := &countingValidator{block: make(chan struct{})}
	h := NewScheduler(v, time.Hour, discardLogger()).Start(context.Background())

	assert.Eventually(t, func() bool { return v.calls.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	v := &countingValidator{}
	ctx, cancel := context.WithCancel(context.Background())
	h := NewScheduler(v, time.Millisecond, nil).Start(ctx)

	assert.Eventually(t, func() bool { return v.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	h.Stop()

	after := v.calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, v.calls.Load())
}

func TestSchedulerSharesEngineLock(t *testing.T) {
	f := newEngineFixture(t, &memStore{record: storedRecord(testStart)})
	f.authority.validate = func(LicenseRequest) (*RemoteLicense, error) { return activeLicense(testStart), nil }

	h := NewScheduler(f.engine, 5*time.Millisecond, discardLogger()).Start(context.Background())
	for i := 0; i < 5; i++ {
		_, err := f.engine.Validate(context.Background())
		assert.NoError(t, err)
	}
	h.Stop()

	_, validate := f.authority.calls()
	assert.Equal(t, 4+validate, f.store.stored().ValidationCount, "every validation is counted exactly once")
}
