package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 5, time.Millisecond, time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := retry(context.Background(), 5, time.Millisecond, time.Millisecond, func(err error) bool { return err != permanent }, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, 2*time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		return errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 3, calls)
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_ = retry(context.Background(), 1, time.Hour, time.Hour, func(error) bool { return true }, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
