package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 2, Timeout: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())
	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1})
	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	current := time.Now()
	cb.now = func() time.Time { return current }

	_ = cb.Execute(context.Background(), func() error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.State())

	current = current.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
