package registry

import "runtime"

// runtimeFuncForPC recovers the fully-qualified name Go's runtime
// associates with the code at pc, e.g.
// "github.com/hackstrix/goworker_test.sum". Returns "" if the runtime
// has no symbol table entry for pc (shouldn't happen for a real Go
// func value, but Register must never panic on it).
func runtimeFuncForPC(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	return fn.Name()
}
