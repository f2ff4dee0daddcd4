// Package transport models the two worker back-ends — an in-process
// goroutine worker and an os/exec subprocess worker — behind one
// capability set, per spec.md §4.1 and §9 ("dual transport as
// interface abstraction"). Everything above this package speaks only
// in already-encoded protocol frames; neither adapter understands
// Call Requests or the codec.
package transport

import "context"

// ExitStatus is the terminal signal every adapter must deliver exactly
// once per worker, carrying either an exit code or a signal name.
type ExitStatus struct {
	Code   int
	Signal string
}

// SpawnOptions carries the frozen Worker Options (spec.md §3) relevant
// to spawning: the argv the worker should observe, environment
// overrides, and an opaque, codec-encoded workerData blob.
type SpawnOptions struct {
	Argv       []string
	Env        []string
	WorkerData []byte
	ExecArgv   []string
	WorkerID   int
	// StderrInherit controls whether a subprocess worker's stderr is
	// wired to this process's own stderr (true, the default) or
	// discarded. Ignored by the goroutine adapter, which has no
	// separate stderr of its own. Stdin/stdout are never configurable
	// this way: both are committed to the framed Call protocol.
	StderrInherit bool
}

// Worker is a single live worker, regardless of transport.
type Worker interface {
	// ID returns the spawn-assigned worker id (stable for the worker's
	// lifetime, unique within the owning pool).
	ID() int
	// Send delivers an already-encoded protocol frame to the worker.
	Send(msg []byte) error
	// Recv yields the frames the worker emits (including READY/TICK
	// control tokens). The subprocess adapter closes it when the
	// worker's stdout closes; the goroutine adapter never closes it.
	Recv() <-chan []byte
	// Exit fires exactly once, with the worker's terminal status.
	Exit() <-chan ExitStatus
	// Kill forcibly terminates the worker without waiting for a clean
	// exit; the adapters' Terminate uses it (the subprocess adapter only
	// once ctx expires before the worker has exited).
	Kill()
}

// Adapter is the capability set spec.md §4.1 requires: spawn, terminate,
// and (implemented by the worker-side runtime, not here) "send from
// inside a worker back to its parent".
type Adapter interface {
	Spawn(ctx context.Context, entry string, opts SpawnOptions) (Worker, error)
	Terminate(ctx context.Context, w Worker) error
	// NormalExit reports whether status represents a termination this
	// adapter itself initiated via Terminate, per spec.md §4.1's
	// tie-break rule. The pool uses this to decide whether to replace
	// the worker.
	NormalExit(status ExitStatus) bool
}
