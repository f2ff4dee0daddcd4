package goworker

import (
	"log/slog"
	"runtime"

	"github.com/hackstrix/goworker/pool"
)

// TransportKind selects the worker back-end Start spawns, per spec.md §9's
// dual-transport design.
type TransportKind int

const (
	// TransportThread runs workers as goroutines in this process, the
	// default — it matches the teacher's preference for lighter-weight
	// concurrency over process-per-worker where the workload allows it.
	TransportThread TransportKind = iota
	// TransportSubprocess runs workers as independent child processes,
	// each a fresh exec of the resolved entry binary.
	TransportSubprocess
)

type stdioConfig struct {
	stdin, stdout, stderr bool
}

type config struct {
	min, max   int
	policy     pool.Policy
	policySet  bool
	entry      string
	transport  TransportKind
	workerData any
	logger     *slog.Logger
	env        []string
	execArgv   []string
	stdio      stdioConfig
}

func defaultConfig() config {
	return config{
		min:       1,
		max:       runtime.NumCPU(),
		policy:    pool.PolicyLeastTime,
		transport: TransportThread,
		stdio:     stdioConfig{stdin: true, stdout: true, stderr: true},
	}
}

// Option configures Start, following the functional-options pattern the
// teacher pack uses for queue/worker configuration.
type Option func(*config)

// WithMin sets the starting (and floor) pool size. Spec default is 1.
func WithMin(n int) Option { return func(c *config) { c.min = n } }

// WithMax sets the auto-scaling ceiling. Spec default is the host's
// logical CPU count.
func WithMax(n int) Option { return func(c *config) { c.max = n } }

// WithPolicy selects round-robin or least-time dispatch, overriding
// whatever default WithWorkers/WithWorkerRange would otherwise pick.
func WithPolicy(p pool.Policy) Option {
	return func(c *config) {
		c.policy = p
		c.policySet = true
	}
}

// WithWorkers pins the pool to a fixed size n (min == max == n), per
// spec.md §6's "workers given as a single int" rule. Its default policy
// is round-robin, since a fixed-size pool has no on-demand scaling to
// favor the least-busy worker over — WithPolicy, applied after this
// option, still overrides it.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.min, c.max = n, n
		if !c.policySet {
			c.policy = pool.PolicyRoundRobin
		}
	}
}

// WithWorkerRange spawns min workers eagerly and grows on demand up to
// max, per spec.md §6's "workers given as [min, max]" rule. Its default
// policy is least-time, favoring the worker whose most recent TICK is
// the newest — WithPolicy, applied after this option, still
// overrides it.
func WithWorkerRange(min, max int) Option {
	return func(c *config) {
		c.min, c.max = min, max
		if !c.policySet {
			c.policy = pool.PolicyLeastTime
		}
	}
}

// WithEntry pins the worker entry path, bypassing entryresolver's
// fallback chain.
func WithEntry(path string) Option { return func(c *config) { c.entry = path } }

// WithTransport selects the thread or subprocess back-end.
func WithTransport(t TransportKind) Option { return func(c *config) { c.transport = t } }

// WithWorkerData attaches an opaque value every worker can read back via
// WorkerData(), encoded once at Start and decoded once per worker.
func WithWorkerData(v any) Option { return func(c *config) { c.workerData = v } }

// WithLogger overrides the discard-handler default.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithEnv appends environment variable overrides passed to subprocess
// workers; ignored under TransportThread.
func WithEnv(env []string) Option { return func(c *config) { c.env = env } }

// WithExecArgv appends extra argv entries subprocess workers see right
// after the --go-worker/--worker-id flags and before --worker-data and
// the forwarded program arguments.
func WithExecArgv(argv []string) Option { return func(c *config) { c.execArgv = argv } }

// WithStdio controls which of a subprocess worker's standard streams are
// inherited from this process. stdin and stdout are accepted for parity
// with the documented option surface but have no effect: both carry the
// framed Call protocol and can never be freed up for anything else.
// stderr, when true (the default), is wired to this process's own
// stderr so worker-side panics and goja errors surface directly;
// false discards it. Ignored entirely under TransportThread.
func WithStdio(stdin, stdout, stderr bool) Option {
	return func(c *config) { c.stdio = stdioConfig{stdin: stdin, stdout: stdout, stderr: stderr} }
}
