package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	hits map[string]int64
	err  error
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.hits[key]++
	return f.hits[key], nil
}

func TestAllow(t *testing.T) {
	counter := &fakeCounter{hits: make(map[string]int64)}
	rl := NewRateLimiter(counter, 2, time.Minute, nil)
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.1"))
	assert.False(t, rl.Allow(ctx, "10.0.0.1"))
	assert.True(t, rl.Allow(ctx, "10.0.0.2"), "keys are independent")
	assert.Equal(t, int64(3), counter.hits["rl:10.0.0.1"])
}

func TestAllowFailsOpen(t *testing.T) {
	rl := NewRateLimiter(&fakeCounter{err: errors.New("redis down")}, 1, time.Minute, nil)
	assert.True(t, rl.Allow(context.Background(), "k"))
}

func TestAllowDisabled(t *testing.T) {
	rl := NewRateLimiter(&fakeCounter{err: errors.New("unused")}, 0, time.Minute, nil)
	assert.True(t, rl.Allow(context.Background(), "k"))
}
