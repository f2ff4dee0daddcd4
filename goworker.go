// Package goworker is the public facade described in spec.md §3: it owns
// the Pool, the Pending Call table, and the Uid Stream, and exposes
// Start/Call/Register/Use/Terminate/Workers/IsMainThread/ThreadID/
// WorkerData as the one entry point callers need, regardless of which
// transport is running underneath.
package goworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hackstrix/goworker/codec"
	"github.com/hackstrix/goworker/entryresolver"
	"github.com/hackstrix/goworker/pool"
	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/registry"
	"github.com/hackstrix/goworker/transport"
	"github.com/hackstrix/goworker/workerrt"
)

// Func wraps a closure that cannot be registered deterministically on
// both sides (e.g. it was built inside a subprocess-targeted call from a
// loop variable) and ships it to a worker as source text instead, per
// spec.md §4.5 step 1. Fn is optional and used only for the empty-pool
// local fallback (spec.md §8 law 8); Source is mandatory and must be
// valid JavaScript, since the worker side evaluates it with goja.
type Func struct {
	Source string
	Fn     any
}

type callOutcome struct {
	result any
	err    error
}

type pendingCall struct {
	ch       chan callOutcome
	workerID int
}

var (
	mu      sync.RWMutex
	p       *pool.Pool
	started bool
	logger  = slog.New(slog.DiscardHandler)
	tKind   = TransportThread

	reg = registry.Default()

	pendingMu sync.Mutex
	pending   = map[uint64]pendingCall{}
	uidSeq    atomic.Uint64

	emptyPoolWarnOnce sync.Once

	// workerSide, workerIDVal and workerDataVal are set once by RunWorker
	// when this process is itself running as a worker.
	workerSide    bool
	workerIDVal   int
	workerDataVal any
	parentSend    func([]byte)

	// runID correlates one Start's worth of log lines and subprocess
	// workers across process boundaries, the way a request id threads
	// through a service's logs.
	runID string
)

// Start spawns the worker pool's minimum worker set and wires the
// frame-routing loop. It is main-side only: a worker process must not
// call Start.
func Start(opts ...Option) error {
	if workerSide {
		return ErrThreadMisuse
	}

	mu.Lock()
	if started {
		mu.Unlock()
		return fmt.Errorf("goworker: Start already called")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.min < 1 {
		mu.Unlock()
		return fmt.Errorf("%w: min workers must be >= 1", ErrConfigError)
	}
	if cfg.logger != nil {
		logger = cfg.logger
	}
	tKind = cfg.transport
	runID = uuid.NewString()
	mu.Unlock()

	logger.Info("goworker: starting", "run_id", runID, "min", cfg.min, "max", cfg.max, "transport", cfg.transport)

	entry, err := entryresolver.Resolve(cfg.entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigError, err)
	}

	workerDataWire, err := encodeWorkerData(cfg.workerData)
	if err != nil {
		return fmt.Errorf("%w: worker data: %v", ErrConfigError, err)
	}

	var adapter transport.Adapter
	switch cfg.transport {
	case TransportSubprocess:
		adapter = &transport.SubprocessAdapter{Logger: logger}
	default:
		adapter = &transport.GoroutineAdapter{Entrypoint: goroutineEntrypoint}
	}

	pp, err := pool.New(pool.Config{
		Min:    cfg.min,
		Max:    cfg.max,
		Policy: cfg.policy,
		Adapter: adapter,
		Entry:   entry,
		SpawnOptions: func(id int) transport.SpawnOptions {
			return transport.SpawnOptions{
				WorkerID:      id,
				Argv:          os.Args[1:],
				Env:           append(append([]string{}, cfg.env...), "GOWORKER_RUN_ID="+runID),
				ExecArgv:      cfg.execArgv,
				WorkerData:    workerDataWire,
				StderrInherit: cfg.stdio.stderr,
			}
		},
		OnFrame: onFrame,
		OnExit:  onExit,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := pp.Start(context.Background()); err != nil {
		return err
	}

	mu.Lock()
	p = pp
	started = true
	mu.Unlock()
	return nil
}

func encodeWorkerData(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	w, err := codec.Encode(v, true)
	if err != nil {
		return nil, err
	}
	data, err := w.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Register appends fn to the process registry, per spec.md §4.3. Safe to
// call from either side: both rebuild the same registry by executing the
// same entry code in the same order.
func Register(fn any) (any, error) {
	v, err := reg.Register(fn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return v, nil
}

// Use records a deferred registration root, per spec.md §4.3.
func Use(moduleOrExports any) { reg.Use(moduleOrExports) }

// Call dispatches fn to a worker, or runs it locally if the pool is
// currently empty (spec.md §8 law 8), and returns its decoded result.
func Call(ctx context.Context, fn any, args ...any) (any, error) {
	if workerSide {
		return nil, ErrThreadMisuse
	}

	mu.RLock()
	pp := p
	mu.RUnlock()
	if pp == nil {
		return nil, ErrNotStarted
	}

	target, sig, err := resolveTarget(fn)
	if err != nil {
		return nil, err
	}

	wireArgs := make([]codec.Wire, len(args))
	for i, a := range args {
		w, err := codec.Encode(a, true)
		if err != nil {
			return nil, fmt.Errorf("goworker: encode argument %d: %w", i, err)
		}
		wireArgs[i] = w
	}

	uid := uidSeq.Add(1)

	h, err := pp.Select(ctx, uid)
	if err == pool.ErrEmptyPool {
		emptyPoolWarnOnce.Do(func() {
			logger.Warn("goworker: pool is empty; running call locally (this warning fires once per process)")
		})
		return callLocally(fn, args)
	}
	if err != nil {
		return nil, err
	}

	req := protocol.CallRequest{UID: uid, Target: target, Sig: sig, Args: wireArgs}
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan callOutcome, 1)
	pendingMu.Lock()
	pending[uid] = pendingCall{ch: ch, workerID: h.ID}
	pendingMu.Unlock()
	defer func() {
		pendingMu.Lock()
		delete(pending, uid)
		pendingMu.Unlock()
	}()

	if err := h.Worker.Send(data); err != nil {
		return nil, err
	}

	// No ctx.Done() case here: spec.md's cancellation/timeout Non-goal is
	// unchanged by SPEC_FULL.md §5/§8 — a hung call keeps its pending
	// entry until the worker answers or onExit fails it, not until the
	// caller's context expires. ctx still gates the spawn-wait above, in
	// pp.Select.
	out := <-ch
	return out.result, out.err
}

// Terminate tears the pool down, per spec.md §4.6.
func Terminate(ctx context.Context) error {
	if workerSide {
		return ErrThreadMisuse
	}
	mu.RLock()
	pp := p
	mu.RUnlock()
	if pp == nil {
		return ErrNotStarted
	}
	return pp.Terminate(ctx)
}

// Workers returns the current pool size. Called from a worker, it queries
// the parent instead of a local pool (there isn't one).
func Workers() int {
	if workerSide {
		return workersFromWorker()
	}
	mu.RLock()
	defer mu.RUnlock()
	if p == nil {
		return 0
	}
	return p.Len()
}

// IsMainThread reports whether this process is the main process rather
// than a spawned worker.
func IsMainThread() bool { return !workerSide }

// ThreadID returns 0 on the main process and the spawn-assigned worker id
// inside a worker.
func ThreadID() int { return workerIDVal }

// WorkerData returns the value passed to WithWorkerData, decoded inside
// the worker that received it; nil on the main process.
func WorkerData() any { return workerDataVal }

// resolveTarget turns a callable argument to Call into a wire Target.
func resolveTarget(fn any) (protocol.Target, uint32, error) {
	if gf, ok := fn.(Func); ok {
		if gf.Source == "" {
			return protocol.Target{}, 0, fmt.Errorf("%w: Func.Source is empty", ErrInvalidArgument)
		}
		if err := registry.RejectClassSource(gf.Source); err != nil {
			return protocol.Target{}, 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return protocol.Target{Kind: protocol.TargetSource, Source: gf.Source}, 0, nil
	}

	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return protocol.Target{}, 0, ErrInvalidArgument
	}

	if idx, ok := reg.IndexOf(fn); ok {
		entry, _ := reg.Lookup(idx)
		return protocol.Target{Kind: protocol.TargetIndex, Index: idx}, entry.Signature, nil
	}

	// An unregistered bare function only works over the thread transport,
	// where "worker" and "main" are the same process and therefore share
	// the one Default registry instance: registering it here makes it
	// visible to the worker goroutine too, with no cross-process
	// determinism problem to solve. Over the subprocess transport the two
	// registries are genuinely separate processes, so this would silently
	// desync them — callers there must either call Register up front or
	// wrap the closure in Func to ship it as source text instead.
	mu.RLock()
	kind := tKind
	mu.RUnlock()
	if kind != TransportThread {
		return protocol.Target{}, 0, fmt.Errorf("%w: function is not registered; call Register before Call when using the subprocess transport", ErrInvalidArgument)
	}
	if _, err := reg.Register(fn); err != nil {
		return protocol.Target{}, 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	idx, _ := reg.IndexOf(fn)
	entry, _ := reg.Lookup(idx)
	return protocol.Target{Kind: protocol.TargetIndex, Index: idx}, entry.Signature, nil
}

// callLocally implements the empty-pool fallback of spec.md §8 law 8: run
// fn in this process instead of failing the call.
func callLocally(fn any, args []any) (any, error) {
	if gf, ok := fn.(Func); ok {
		if gf.Fn == nil {
			return nil, fmt.Errorf("goworker: pool is empty and Func has no Fn to run locally")
		}
		fn = gf.Fn
	}
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, ErrInvalidArgument
	}
	t := rv.Type()
	if len(args) != t.NumIn() && !t.IsVariadic() {
		return nil, fmt.Errorf("goworker: argument count mismatch: got %d, want %d", len(args), t.NumIn())
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := t.In(i)
		if t.IsVariadic() && i >= t.NumIn()-1 {
			pt = t.In(t.NumIn() - 1).Elem()
		}
		if a == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(a)
		if av.Type() != pt && av.Type().ConvertibleTo(pt) {
			av = av.Convert(pt)
		}
		in[i] = av
	}
	out := rv.Call(in)
	return splitLocalResult(out)
}

func splitLocalResult(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		if len(out) == 1 {
			return nil, err
		}
		return out[0].Interface(), err
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	vals := make([]any, len(out))
	for i, v := range out {
		vals[i] = v.Interface()
	}
	return vals, nil
}

// onFrame routes an inbound frame from a worker: a response completes a
// pending call; a request is the worker calling back into the registry
// the parent shares with it (e.g. Workers() issued worker-side).
func onFrame(workerID int, frame []byte) {
	msg, err := protocol.Parse(frame)
	if err != nil {
		return
	}
	switch {
	case msg.Response != nil:
		routeResponse(*msg.Response)
	case msg.Request != nil:
		go handleWorkerRequest(workerID, *msg.Request)
	}
}

func routeResponse(resp protocol.CallResponse) {
	pendingMu.Lock()
	pc, ok := pending[resp.UID]
	pendingMu.Unlock()
	if !ok {
		return
	}
	ch := pc.ch

	if resp.Error != nil {
		v, err := codec.Decode(*resp.Error)
		if err != nil {
			ch <- callOutcome{err: err}
			return
		}
		werr, _ := v.(*codec.WireError)
		var outErr error = werr
		if werr != nil && werr.Message == workerrt.ErrRegistryMismatch {
			outErr = errors.Join(ErrRegistryMismatch, werr)
		}
		ch <- callOutcome{err: outErr}
		return
	}

	var result any
	if resp.Result != nil {
		v, err := codec.Decode(*resp.Result)
		if err != nil {
			ch <- callOutcome{err: err}
			return
		}
		result = v
	}
	ch <- callOutcome{result: result}
}

// workersQuerySource is the fixed target a worker-side Workers() call
// uses; the main side special-cases it instead of running it through the
// registry or the goja evaluator, since it has no registered-function
// identity of its own.
const workersQuerySource = "__goworker_workers__"

func handleWorkerRequest(workerID int, req protocol.CallRequest) {
	var resp protocol.CallResponse
	if req.Target.Kind == protocol.TargetSource && req.Target.Source == workersQuerySource {
		mu.RLock()
		n := 0
		if p != nil {
			n = p.Len()
		}
		mu.RUnlock()
		w, err := codec.Encode(float64(n), false)
		if err != nil {
			resp = protocol.CallResponse{UID: req.UID}
		} else {
			resp = protocol.CallResponse{UID: req.UID, Result: &w}
		}
	} else {
		resp = workerrt.Handle(req, workerrt.Options{Registry: reg, Logger: logger})
	}

	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return
	}
	mu.RLock()
	pp := p
	mu.RUnlock()
	if pp != nil {
		_ = pp.Send(workerID, data)
	}
}

// onExit fails every pending call addressed to workerID with
// ErrTransportFailure instead of leaving its Call goroutine blocked
// forever on a worker that is never going to answer. This applies to
// unexpected exits and to Terminate-induced ones alike: a call still
// pending when Terminate stops its worker fails the same way.
func onExit(workerID int, status transport.ExitStatus, normal bool) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	for uid, pc := range pending {
		if pc.workerID != workerID {
			continue
		}
		select {
		case pc.ch <- callOutcome{err: ErrTransportFailure}:
		default:
		}
		delete(pending, uid)
	}
}
