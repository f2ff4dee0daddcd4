package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackstrix/goworker/pool"
	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/transport"
)

func echoAdapter() *transport.GoroutineAdapter {
	return &transport.GoroutineAdapter{
		Entrypoint: func(opts transport.SpawnOptions, recv <-chan []byte, send func([]byte)) {
			ready, _ := protocol.EncodeControl(protocol.TokenReady)
			send(ready)
			for msg := range recv {
				send(msg)
			}
		},
	}
}

func newTestPool(t *testing.T, min, max int, policy pool.Policy) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		Min:     min,
		Max:     max,
		Policy:  policy,
		Adapter: echoAdapter(),
		SpawnOptions: func(id int) transport.SpawnOptions {
			return transport.SpawnOptions{WorkerID: id}
		},
		OnFrame: func(workerID int, frame []byte) {},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestStartSpawnsMinWorkers(t *testing.T) {
	p := newTestPool(t, 2, 4, pool.PolicyLeastTime)
	require.Equal(t, 2, p.Len())
}

func TestConfigErrorOnMinLessThanOne(t *testing.T) {
	_, err := pool.New(pool.Config{Min: 0, Max: 1})
	require.Error(t, err)
}

// TestRoundRobinDistribution mirrors invariant 5 (spec.md §8): at max
// pool size, k consecutive calls visit each worker ⌊k/N⌋ or ⌈k/N⌉ times.
func TestRoundRobinDistribution(t *testing.T) {
	const n = 3
	p := newTestPool(t, n, n, pool.PolicyRoundRobin)

	counts := make(map[int]int)
	const k = 10
	for uid := uint64(0); uid < k; uid++ {
		h, err := p.Select(context.Background(), uid)
		require.NoError(t, err)
		counts[h.ID]++
	}

	require.Len(t, counts, n)
	for _, c := range counts {
		require.True(t, c == k/n || c == k/n+1, "count %d out of expected range", c)
	}
}

func TestEmptyPoolFallback(t *testing.T) {
	p, err := pool.New(pool.Config{Min: 1, Max: 1, Adapter: echoAdapter(), SpawnOptions: func(id int) transport.SpawnOptions {
		return transport.SpawnOptions{WorkerID: id}
	}})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Terminate(context.Background()))

	_, err = p.Select(context.Background(), 0)
	require.ErrorIs(t, err, pool.ErrEmptyPool)
}

// TestUnexpectedExitReplacement mirrors invariant 7: a worker killed
// with a non-normal exit is replaced, restoring pool size.
func TestUnexpectedExitReplacement(t *testing.T) {
	crashingAdapter := &transport.GoroutineAdapter{
		Entrypoint: func(opts transport.SpawnOptions, recv <-chan []byte, send func([]byte)) {
			ready, _ := protocol.EncodeControl(protocol.TokenReady)
			send(ready)
			<-recv
			panic("simulated crash")
		},
	}
	p, err := pool.New(pool.Config{
		Min: 1, Max: 2, Adapter: crashingAdapter,
		SpawnOptions: func(id int) transport.SpawnOptions { return transport.SpawnOptions{WorkerID: id} },
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, 1, p.Len())

	h, err := p.Select(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, h.Worker.Send([]byte("trigger")))

	require.Eventually(t, func() bool {
		if p.Len() != 1 {
			return false
		}
		h2, err := p.Select(context.Background(), 1)
		return err == nil && h2.ID != h.ID
	}, time.Second, 5*time.Millisecond)
}
