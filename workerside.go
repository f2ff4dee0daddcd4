package goworker

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hackstrix/goworker/codec"
	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/workerrt"
)

// RunWorker turns the calling process into a subprocess worker: it reads
// the --go-worker/--worker-id/--worker-data flags transport.SubprocessAdapter
// injects (spec.md §6), then frames Call Requests off stdin and Call
// Responses onto stdout until stdin closes. A cmd/goworkerd-style main
// should call this before anything else once it detects --go-worker=true
// in os.Args, and return immediately afterward.
//
// A goroutine-transport worker never calls this: it runs in the same
// process as the caller of Start, so IsMainThread/ThreadID/WorkerData
// stay meaningful only for subprocess workers, where each is genuinely a
// separate process with its own copy of these globals.
func RunWorker() {
	workerIDVal = parseWorkerID(os.Args)
	workerDataVal = parseWorkerData(os.Args)
	workerSide = true

	var writeMu sync.Mutex
	send := func(frame []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
		os.Stdout.Write(lenBuf[:])
		os.Stdout.Write(frame)
	}
	parentSend = send

	rawRecv := make(chan []byte, 16)
	go readFramedStdin(rawRecv)

	runWorkerLoop(rawRecv, send)
}

// runWorkerLoop demultiplexes the frames a worker receives: a Call
// Response is a reply to something this worker itself asked its parent
// (the Workers() callback path), and is routed into the same pending-call
// table Call uses; everything else is a Call Request or control token
// workerrt.Run itself understands. A subprocess worker needs this split —
// it can be asked to run a function AND ask its parent a question on the
// same channel. goroutineEntrypoint uses the same loop, although a
// goroutine worker never asks its parent anything.
func runWorkerLoop(rawRecv <-chan []byte, send func([]byte)) {
	runtimeRecv := make(chan []byte, 16)
	go func() {
		for frame := range rawRecv {
			msg, err := protocol.Parse(frame)
			if err == nil && msg.Response != nil {
				routeResponse(*msg.Response)
				continue
			}
			runtimeRecv <- frame
		}
		close(runtimeRecv)
	}()

	workerrt.Run(runtimeRecv, send, workerrt.Options{
		Registry: reg,
		Eval:     workerrt.GojaEvaluator{},
		Logger:   logger,
	})
}

func readFramedStdin(out chan<- []byte) {
	defer close(out)
	r := bufio.NewReader(os.Stdin)
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
		out <- frame
	}
}

func parseWorkerID(argv []string) int {
	for _, a := range argv {
		if v, ok := strings.CutPrefix(a, "--worker-id="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func parseWorkerData(argv []string) any {
	for _, a := range argv {
		if v, ok := strings.CutPrefix(a, "--worker-data="); ok {
			var w codec.Wire
			if err := json.Unmarshal([]byte(v), &w); err != nil {
				return nil
			}
			decoded, err := codec.Decode(w)
			if err != nil {
				return nil
			}
			return decoded
		}
	}
	return nil
}

// workersFromWorker implements Workers() called from inside a subprocess
// worker: it issues the same kind of request a worker answers, just in
// the other direction, and blocks for the parent's reply.
func workersFromWorker() int {
	uid := uidSeq.Add(1)
	req := protocol.CallRequest{
		UID:    uid,
		Target: protocol.Target{Kind: protocol.TargetSource, Source: workersQuerySource},
		Args:   []codec.Wire{},
	}
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return 0
	}

	ch := make(chan callOutcome, 1)
	pendingMu.Lock()
	pending[uid] = pendingCall{ch: ch}
	pendingMu.Unlock()
	defer func() {
		pendingMu.Lock()
		delete(pending, uid)
		pendingMu.Unlock()
	}()

	if parentSend == nil {
		return 0
	}
	parentSend(data)

	select {
	case out := <-ch:
		if n, ok := out.result.(float64); ok {
			return int(n)
		}
		return 0
	case <-time.After(5 * time.Second):
		return 0
	}
}
