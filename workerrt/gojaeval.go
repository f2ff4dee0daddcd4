package workerrt

import (
	"fmt"

	"github.com/dop251/goja"
)

// GojaEvaluator implements SourceEvaluator by hosting a throwaway goja
// runtime per call: Go has no runtime eval for its own source, so the
// "ship a function by source text, no closure" fallback path (spec.md
// §4.5 step 1) instead treats the shipped text as JavaScript, exactly
// the way github.com/joeycumines/goja-eventloop,
// github.com/joeycumines/goja-grpc, and the sibling goja-protobuf /
// goja-protojson packages embed github.com/dop251/goja to run
// dynamically supplied script against a Go host. A fresh *goja.Runtime
// per call keeps each evaluation's global scope isolated, matching
// spec.md's "a fresh expression context".
type GojaEvaluator struct{}

// Eval parses source as a JavaScript expression yielding a callable,
// invokes it with args converted to goja values, and exports the
// result back to native Go values via goja's own conversion rules.
func (GojaEvaluator) Eval(source string, args []any) (any, error) {
	rt := goja.New()

	val, err := rt.RunString("(" + source + ")")
	if err != nil {
		return nil, fmt.Errorf("workerrt: source evaluation failed: %w", err)
	}

	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("workerrt: source text is not callable")
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = rt.ToValue(a)
	}

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, fmt.Errorf("workerrt: source evaluation threw: %w", err)
	}

	exported := result.Export()
	return resolvePromise(rt, exported)
}

// resolvePromise unwraps a goja *goja.Promise, matching spec.md's S2
// scenario ("async literal") where the target returns a Promise rather
// than a plain value. goja resolves microtasks synchronously as soon as
// the call stack returns to Go, so by the time Export() is reached a
// promise created via Promise.resolve(...) is already settled.
func resolvePromise(rt *goja.Runtime, v any) (any, error) {
	p, ok := v.(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("workerrt: promise rejected: %v", p.Result().Export())
	default:
		return nil, fmt.Errorf("workerrt: promise did not settle synchronously")
	}
}
