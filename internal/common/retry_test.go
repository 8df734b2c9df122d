package common

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(waits *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(&waits).Do(context.Background(), "op", nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("503"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRetryPolicy_StopsOnPermanent(t *testing.T) {
	var waits []time.Duration
	calls := 0
	perm := errors.New("400")
	err := recordingPolicy(&waits).Do(context.Background(), "op", nil, func(context.Context) error {
		calls++
		return perm
	})
	assert.ErrorIs(t, err, perm)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(&waits).Do(context.Background(), "op", nil, func(context.Context) error {
		calls++
		return Retryable(errors.New("429"))
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 4, calls)
	assert.Len(t, waits, 3)
}

func TestShouldRetryStatus(t *testing.T) {
	assert.True(t, ShouldRetryStatus(http.StatusTooManyRequests))
	assert.True(t, ShouldRetryStatus(http.StatusBadGateway))
	assert.False(t, ShouldRetryStatus(http.StatusBadRequest))
	assert.False(t, ShouldRetryStatus(http.StatusConflict))
}
