package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/departure-inventory/internal/observability"
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

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	counter := &fakeCounter{hits: map[string]int64{}}
	rl := NewRateLimiter(counter, observability.NewDiscardLogger())

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ctx, "actor:a", 3, time.Minute))
	}
	assert.False(t, rl.Allow(ctx, "actor:a", 3, time.Minute))
	assert.True(t, rl.Allow(ctx, "actor:b", 3, time.Minute))
	assert.Equal(t, int64(4), counter.hits["rl:actor:a"])

	assert.True(t, rl.Allow(ctx, "actor:a", 0, time.Minute))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rl := NewRateLimiter(&fakeCounter{err: errors.New("conn refused")}, observability.NewDiscardLogger())
	assert.True(t, rl.Allow(context.Background(), "ip:1.2.3.4", 1, time.Minute))
}
