package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	base := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(base)
	})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotRetryCancellation(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResultReturnsLastError(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	_, err := DoWithResult(context.Background(), cfg, func() (int, error) {
		return 0, errors.New("still failing")
	})
	assert.EqualError(t, err, "still failing")
}

func TestOnRetryHook(t *testing.T) {
	cfg := fastConfig()
	cfg.Operation = "usage-report"
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	err := Do(context.Background(), cfg, func() error {
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts, "no hook after the final attempt")
}
