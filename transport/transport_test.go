package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackstrix/goworker/transport"
)

func TestGoroutineAdapterEchoesAndExits(t *testing.T) {
	adapter := &transport.GoroutineAdapter{
		Entrypoint: func(opts transport.SpawnOptions, recv <-chan []byte, send func([]byte)) {
			for msg := range recv {
				send(msg)
			}
		},
	}

	ctx := context.Background()
	w, err := adapter.Spawn(ctx, "", transport.SpawnOptions{WorkerID: 1})
	require.NoError(t, err)

	require.NoError(t, w.Send([]byte("ping")))

	select {
	case got := <-w.Recv():
		require.Equal(t, "ping", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo")
	}

	require.NoError(t, adapter.Terminate(ctx, w))

	select {
	case status := <-w.Exit():
		require.True(t, adapter.NormalExit(status))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestGoroutineAdapterUnexpectedExitIsNotNormal(t *testing.T) {
	adapter := &transport.GoroutineAdapter{
		Entrypoint: func(opts transport.SpawnOptions, recv <-chan []byte, send func([]byte)) {
			panic("boom")
		},
	}

	w, err := adapter.Spawn(context.Background(), "", transport.SpawnOptions{WorkerID: 2})
	require.NoError(t, err)

	select {
	case status := <-w.Exit():
		require.False(t, adapter.NormalExit(status))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exit")
	}
}
