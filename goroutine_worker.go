package goworker

import (
	"github.com/hackstrix/goworker/transport"
)

// goroutineEntrypoint is the Entrypoint transport.GoroutineAdapter runs
// per worker under TransportThread. Unlike a subprocess worker it shares
// the caller's address space and Default registry already, so it needs no
// stdio framing and no workerSide/workerData bookkeeping of its own — see
// RunWorker's doc comment for why those globals only describe subprocess
// workers. It shares runWorkerLoop with RunWorker; here Workers() called
// inside the worker reads the pool directly (workerSide stays false), so
// no Call Response ever arrives for the loop to route.
func goroutineEntrypoint(opts transport.SpawnOptions, recv <-chan []byte, send func([]byte)) {
	runWorkerLoop(recv, send)
}
