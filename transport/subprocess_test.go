package transport_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackstrix/goworker/transport"
)

// TestMain lets this test binary double as the subprocess worker
// SubprocessAdapter spawns, the same re-exec trick the standard
// library's os/exec tests use: a "helper process" branch runs before
// testing.M ever calls flag.Parse(), so Spawn's own argv convention
// (--go-worker=true, --worker-id=N) never collides with the test
// binary's flag set — runHelperProcess reads os.Args by hand, exactly
// like workerside.go's parseWorkerID does for a real worker.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperProcess()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperProcess frame-echoes stdin back onto stdout, tagging the
// first echoed frame with whatever --worker-id Spawn injected so tests
// can confirm Spawn actually built that argv.
func runHelperProcess() {
	workerID := "?"
	for _, a := range os.Args {
		if v, ok := strings.CutPrefix(a, "--worker-id="); ok {
			workerID = v
		}
	}

	r := bufio.NewReader(os.Stdin)
	first := true
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return
		}

		out := frame
		if first {
			out = append(frame, []byte(":"+workerID)...)
			first = false
		}

		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(out)))
		os.Stdout.Write(lenBuf[:])
		os.Stdout.Write(out)
	}
}

func helperEntry(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func spawnHelper(t *testing.T, adapter *transport.SubprocessAdapter, workerID int) transport.Worker {
	t.Helper()
	w, err := adapter.Spawn(context.Background(), helperEntry(t), transport.SpawnOptions{
		WorkerID: workerID,
		Env:      []string{"GO_WANT_HELPER_PROCESS=1"},
	})
	require.NoError(t, err)
	return w
}

func TestSubprocessAdapterSpawnSendRecv(t *testing.T) {
	adapter := &transport.SubprocessAdapter{}
	w := spawnHelper(t, adapter, 7)
	defer w.Kill()

	require.NoError(t, w.Send([]byte("ping")))

	select {
	case got := <-w.Recv():
		// The worker-id suffix proves Spawn built the --worker-id=7 argv
		// the helper process parsed back out of its own os.Args.
		require.Equal(t, "ping:7", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestSubprocessAdapterTerminateIsNormalExit(t *testing.T) {
	adapter := &transport.SubprocessAdapter{}
	w := spawnHelper(t, adapter, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, adapter.Terminate(ctx, w))

	select {
	case status := <-w.Exit():
		require.True(t, adapter.NormalExit(status))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}

func TestSubprocessAdapterKillIsNotNormalExit(t *testing.T) {
	adapter := &transport.SubprocessAdapter{}
	w := spawnHelper(t, adapter, 2)

	w.Kill()

	select {
	case status := <-w.Exit():
		require.False(t, adapter.NormalExit(status))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
}
