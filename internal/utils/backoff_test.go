package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffRetriesUntilSuccess(t *testing.T) {
	b := NewBackoff(time.Millisecond, 3, time.Millisecond)
	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffGivesUp(t *testing.T) {
	b := NewBackoff(time.Millisecond, 2, 0)
	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestBackoffPermanentStopsImmediately(t *testing.T) {
	b := NewBackoff(time.Millisecond, 5, 0)
	bad := errors.New("400 bad request")
	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		return Permanent(bad)
	})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBackoff(time.Hour, 5, 0)
	err := b.Do(ctx, func(int) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}
