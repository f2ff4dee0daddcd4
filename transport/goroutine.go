package transport

import (
	"context"
	"fmt"
	"runtime"
)

// GoroutineAdapter is the "thread" transport analogue: it runs a
// worker's entry function on a dedicated goroutine that is locked to
// its own OS thread (runtime.LockOSThread), so it gets real OS-level
// parallelism even though it shares the host process's address space.
// Messages still cross only as already-encoded frames over channels —
// no Go value ever passes between the two sides unencoded — so the
// transports stay behaviorally identical per spec.md §9.
type GoroutineAdapter struct {
	// Entrypoint runs inside the worker goroutine. It receives the
	// frames sent to it and a send func to deliver frames back, and
	// should block until told to stop (recv closed) or it chooses to
	// exit on its own.
	Entrypoint func(opts SpawnOptions, recv <-chan []byte, send func([]byte))
}

type goroutineWorker struct {
	id     int
	toCh   chan []byte
	recvCh chan []byte
	exitCh chan ExitStatus
	doneCh chan struct{}
}

// Spawn launches the entrypoint on a dedicated, OS-thread-locked
// goroutine. entry is accepted for interface symmetry with
// SubprocessAdapter but is not otherwise consulted — the goroutine
// transport's "entry file" is simply a-priori code wired at process
// start via Entrypoint, since there is nothing to exec.
func (a *GoroutineAdapter) Spawn(ctx context.Context, entry string, opts SpawnOptions) (Worker, error) {
	if a.Entrypoint == nil {
		return nil, fmt.Errorf("transport: GoroutineAdapter has no Entrypoint configured")
	}

	w := &goroutineWorker{
		id:     opts.WorkerID,
		toCh:   make(chan []byte, 16),
		recvCh: make(chan []byte, 16),
		exitCh: make(chan ExitStatus, 1),
		doneCh: make(chan struct{}),
	}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.doneCh)

		code := 1 // spec.md's thread-transport "normal exit" sentinel
		defer func() {
			if r := recover(); r != nil {
				code = 2
			}
			select {
			case w.exitCh <- ExitStatus{Code: code}:
			default:
			}
		}()

		send := func(msg []byte) {
			select {
			case w.recvCh <- msg:
			case <-ctx.Done():
			}
		}
		a.Entrypoint(opts, w.toCh, send)
	}()

	return w, nil
}

func (w *goroutineWorker) ID() int                { return w.id }
func (w *goroutineWorker) Recv() <-chan []byte     { return w.recvCh }
func (w *goroutineWorker) Exit() <-chan ExitStatus { return w.exitCh }

func (w *goroutineWorker) Send(msg []byte) error {
	select {
	case w.toCh <- msg:
		return nil
	case <-w.doneCh:
		return fmt.Errorf("transport: worker %d has already exited", w.id)
	}
}

// Kill closes the inbound channel, which the entrypoint's receive loop
// must treat as "stop"; there is no OS-level force-kill for a goroutine.
func (w *goroutineWorker) Kill() {
	select {
	case <-w.doneCh:
	default:
		close(w.toCh)
	}
}

// Terminate requests a clean stop (closing toCh, same as Kill — a
// goroutine has no SIGTERM) and waits for the worker to observe it.
func (a *GoroutineAdapter) Terminate(ctx context.Context, wk Worker) error {
	w, ok := wk.(*goroutineWorker)
	if !ok {
		return fmt.Errorf("transport: not a goroutine worker")
	}
	w.Kill()
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NormalExit implements spec.md §4.1's thread-transport tie-break:
// normal iff exit code == 1, the sentinel Terminate/Kill-induced stops
// use.
func (a *GoroutineAdapter) NormalExit(status ExitStatus) bool {
	return status.Code == 1
}
