package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("still broken")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(errors.New("conflict"))
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNextRetryDelayGrowsStrictly(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 0; attempts < 10; attempts++ {
		d := NextRetryDelay(attempts)
		assert.Greater(t, d, prev, "delay must strictly increase at attempt %d", attempts)
		prev = d
	}
	assert.Equal(t, 2*time.Second, NextRetryDelay(1))
	assert.Equal(t, 8*time.Second, NextRetryDelay(3))
	assert.Equal(t, 24*time.Hour, NextRetryDelay(30), "capped at a day")
}
