package routingpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ RoutingPool = (*SimpleRoutingPool)(nil)

func TestPoolBoundsInFlight(t *testing.T) {
	const size = 3
	p := NewSimpleRoutingPool(size, nil)

	var running, peak int64
	for i := 0; i < 20; i++ {
		err := p.Submit(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		})
		require.NoError(t, err)
	}
	p.Stop()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(size))
	assert.LessOrEqual(t, p.MaxInFlight(), int64(size))
	assert.Equal(t, int64(0), p.InFlight())
}

func TestPoolSubmitCancelled(t *testing.T) {
	p := NewSimpleRoutingPool(1, nil)
	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		<-block
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {
		t.Error("should not run")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	p.Stop()
}

func TestPoolOnChange(t *testing.T) {
	var last int64 = -1
	var calls int64
	p := NewSimpleRoutingPool(0, func(n int64) {
		atomic.AddInt64(&calls, 1)
		atomic.StoreInt64(&last, n)
	})
	assert.Equal(t, int64(1), p.Size())

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {}))
	p.Stop()

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&last))
}
