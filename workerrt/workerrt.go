// Package workerrt is the code that runs inside a worker (subprocess or
// goroutine): it installs a message handler, emits READY once and TICK
// periodically, and for each Call Request resolves the target —
// by registry index or by evaluating shipped source text — runs it,
// and ships back a Call Response. See spec.md §4.5.
package workerrt

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/hackstrix/goworker/codec"
	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/registry"
)

// ErrRegistryMismatch is the fixed wire-level error message spec.md §4.5
// and §7 require verbatim: it is part of the wire contract (scenario S3)
// and must never be reworded.
const ErrRegistryMismatch = "Goroutine registry malformed, function call cannot be performed"

// TickInterval is the periodic liveness token cadence, fixed at 100ms
// by spec.md §4.4.
const TickInterval = 100 * time.Millisecond

// StaleAfter mirrors spec.md §4.6's one-second staleness threshold. The
// pool package declares its own pool.StaleAfter with the same value and
// does not use this one.
const StaleAfter = time.Second

// Options configures a Run call.
type Options struct {
	Registry *registry.Registry
	Logger   *slog.Logger
	// Eval resolves a Call Request whose target is source text rather
	// than a registry index. nil disables the source-eval fallback
	// (e.g. for workers that only ever receive registered calls).
	Eval SourceEvaluator
}

// SourceEvaluator evaluates shipped source text into a callable and
// invokes it with the decoded arguments, returning the decoded result.
// GojaEvaluator (gojaeval.go) is the grounded implementation.
type SourceEvaluator interface {
	Eval(source string, args []any) (any, error)
}

// Run installs the message handler and blocks until recv closes (the
// worker is being torn down). send delivers frames back to the parent;
// recv yields frames addressed to this worker.
func Run(recv <-chan []byte, send func([]byte), opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	readyFrame, err := protocol.EncodeControl(protocol.TokenReady)
	if err != nil {
		logger.Error("workerrt: failed to encode READY", "error", err)
		return
	}
	// "on first scheduler tick after install" — a zero-delay timer is
	// Go's equivalent of Node's next-microtask-queue-drain semantics.
	readyTimer := time.AfterFunc(0, func() { send(readyFrame) })
	defer readyTimer.Stop()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	tickFrame, _ := protocol.EncodeControl(protocol.TokenTick)

	for {
		select {
		case frame, ok := <-recv:
			if !ok {
				return
			}
			handleFrame(frame, send, opts, logger)
		case <-ticker.C:
			send(tickFrame)
		}
	}
}

func handleFrame(frame []byte, send func([]byte), opts Options, logger *slog.Logger) {
	msg, err := protocol.Parse(frame)
	if err != nil {
		// Unknown messages are silently dropped, per spec.md §4.5.
		return
	}
	if msg.Request == nil {
		// A worker only ever receives requests (and its own control
		// tokens are outbound-only); anything else is out of scope here.
		return
	}
	resp := handleRequest(*msg.Request, opts, logger)
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		logger.Error("workerrt: failed to encode response", "uid", msg.Request.UID, "error", err)
		return
	}
	send(data)
}

// Handle resolves and runs a single Call Request and returns its
// response, without needing a recv/send channel pair around it. The
// facade uses this on the main side to answer a worker-initiated call
// (spec.md §4.5's note that a worker can call back into the registry the
// main process shares with it) the same way a worker answers one.
func Handle(req protocol.CallRequest, opts Options) protocol.CallResponse {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return handleRequest(req, opts, logger)
}

func handleRequest(req protocol.CallRequest, opts Options, logger *slog.Logger) protocol.CallResponse {
	args, err := decodeArgs(req.Args)
	if err != nil {
		return errResponse(req.UID, err)
	}

	var result any
	switch req.Target.Kind {
	case protocol.TargetIndex:
		result, err = callRegistered(opts.Registry, req.Target.Index, req.Sig, args)
	case protocol.TargetSource:
		result, err = callFromSource(opts.Eval, req.Target.Source, args)
	default:
		err = fmt.Errorf("workerrt: unknown target kind %d", req.Target.Kind)
	}

	if err != nil {
		logger.Warn("workerrt: call failed", "uid", req.UID, "error", err)
		return errResponse(req.UID, err)
	}

	resultWire, err := codec.Encode(result, false)
	if err != nil {
		return errResponse(req.UID, err)
	}
	return protocol.CallResponse{UID: req.UID, Result: &resultWire}
}

func decodeArgs(wires []codec.Wire) ([]any, error) {
	args := make([]any, len(wires))
	for i, w := range wires {
		v, err := codec.Decode(w)
		if err != nil {
			return nil, fmt.Errorf("workerrt: decode arg %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// callRegistered implements spec.md §4.5 step 2: look up registry[idx];
// fail with the fixed message if absent or if signatures disagree.
func callRegistered(reg *registry.Registry, idx int, sig uint32, args []any) (any, error) {
	if reg == nil {
		return nil, fmt.Errorf("%s", ErrRegistryMismatch)
	}
	entry, ok := reg.Lookup(idx)
	if !ok || entry.Signature != sig {
		return nil, fmt.Errorf("%s", ErrRegistryMismatch)
	}
	return invoke(entry.Callable, args)
}

func callFromSource(eval SourceEvaluator, source string, args []any) (any, error) {
	if err := registry.RejectClassSource(source); err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, fmt.Errorf("workerrt: no source evaluator configured for this worker")
	}
	return eval.Eval(source, args)
}

// invoke calls fn via reflection, converting decoded arguments to the
// function's declared parameter types and collapsing a trailing error
// return into the (result, error) shape every call path uses.
func invoke(fn reflect.Value, args []any) (any, error) {
	t := fn.Type()
	if len(args) != t.NumIn() && !t.IsVariadic() {
		return nil, fmt.Errorf("workerrt: argument count mismatch: got %d, want %d", len(args), t.NumIn())
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		paramType := t.In(i)
		if t.IsVariadic() && i >= t.NumIn()-1 {
			paramType = t.In(t.NumIn() - 1).Elem()
		}
		rv, err := coerce(a, paramType)
		if err != nil {
			return nil, fmt.Errorf("workerrt: argument %d: %w", i, err)
		}
		in[i] = rv
	}

	out := fn.Call(in)
	return splitResult(out)
}

func splitResult(out []reflect.Value) (any, error) {
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

// coerce converts a decoded value (always one of the codec's output
// shapes: float64, string, bool, []any, map[any]any, ...) into the
// reflect.Value a target function's parameter type declares.
func coerce(v any, target reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(target), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(target) && (rv.Type().Kind() == target.Kind() || isNumericKind(rv.Type().Kind()) && isNumericKind(target.Kind())) {
		return rv.Convert(target), nil
	}
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, target)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func errResponse(uid uint64, err error) protocol.CallResponse {
	w, encErr := codec.Encode(err, false)
	if encErr != nil {
		w = codec.Wire{Kind: codec.KindError, Value: map[string]any{"name": "Error", "message": err.Error()}}
	}
	return protocol.CallResponse{UID: uid, Error: &w}
}
