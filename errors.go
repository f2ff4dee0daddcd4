package goworker

import "errors"

// Error taxonomy from spec.md §7. Each is a package-level sentinel so
// callers can use errors.Is/errors.As, matching the pattern
// dmitrymomot/foundation/core/queue uses for its own sentinel errors
// (e.g. errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)).
var (
	// ErrRegistryMismatch is raised on a worker when registry[target]
	// is missing or its signature differs from the caller's. The
	// message text is fixed by spec.md §4.5/§7 and lives in
	// workerrt.ErrRegistryMismatch; this sentinel wraps it for callers
	// that want errors.Is on the main side.
	ErrRegistryMismatch = errors.New("goworker: registry mismatch")

	// ErrInvalidArgument is returned synchronously by Register/Call when
	// given a non-function value.
	ErrInvalidArgument = errors.New("goworker: invalid argument: not a function")

	// ErrThreadMisuse is returned synchronously when Start/Call/Terminate
	// is invoked from a worker.
	ErrThreadMisuse = errors.New("goworker: this operation is main-side only")

	// ErrConfigError covers min < 1 and unresolvable worker entries.
	ErrConfigError = errors.New("goworker: configuration error")

	// ErrTransportFailure marks a pending call abandoned because its
	// owning worker exited (unexpectedly, or stopped by Terminate) before
	// responding; it is not retried automatically.
	ErrTransportFailure = errors.New("goworker: worker transport failed before responding")

	// ErrNotStarted is returned by Call/Terminate before Start has
	// completed (Workers reports 0 instead).
	ErrNotStarted = errors.New("goworker: Start has not been called")
)
