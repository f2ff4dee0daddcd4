// Package pool implements the Pool & Dispatcher described in spec.md
// §4.6: the live worker set, the dispatch policy (round-robin vs.
// least-time, including the hybrid "scale first, then switch policy"
// rule), on-demand scaling, and unexpected-exit replacement.
//
// Its shape is grounded on orchestrator/pool.go and orchestrator/worker.go
// from the teacher repo: the available-channel semaphore and
// scaleLoop/healthCheckLoop pair generalize into Select's inline
// spawn-on-stale rule (staleness is checked per call; there is no
// background sweep), and Worker.monitor's crash-and-restart loop
// generalizes into exitLoop's unexpected-exit replacement.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackstrix/goworker/protocol"
	"github.com/hackstrix/goworker/transport"
)

// Policy selects how Select picks among live workers.
type Policy int

const (
	// PolicyRoundRobin cycles pool[uid mod len(pool)], but only once the
	// pool has reached Max — before that there is no stable modulus
	// (spec.md §4.6's hybrid rule).
	PolicyRoundRobin Policy = iota
	// PolicyLeastTime picks the worker with the largest last-TICK
	// timestamp: the most recently responsive one.
	PolicyLeastTime
)

// StaleAfter is spec.md §4.6's one-second staleness threshold.
const StaleAfter = time.Second

// ErrEmptyPool signals the "pool is empty, caller must run locally"
// fallback of spec.md §4.6 / §8 law 8. It is not a failure — the
// facade catches it and runs the call in-process with a one-shot
// advisory warning.
var ErrEmptyPool = errors.New("pool: no live workers; call should run locally")

// ErrNotStarted is returned by Select before Start has been called.
var ErrNotStarted = errors.New("pool: not started")

// Handle is one live worker and its liveness bookkeeping.
type Handle struct {
	ID         int
	Worker     transport.Worker
	LastTickAt atomic.Int64 // unix nanos; advances on every TICK
	Ready      atomic.Bool
}

func (h *Handle) touch()      { h.LastTickAt.Store(time.Now().UnixNano()) }
func (h *Handle) stale() bool {
	last := h.LastTickAt.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) >= StaleAfter
}

// Config freezes the Worker Options relevant to the pool, per spec.md §3.
type Config struct {
	Min, Max int
	Policy   Policy
	Adapter  transport.Adapter
	Entry    string
	// SpawnOptions builds the per-worker spawn options for worker id n.
	SpawnOptions func(id int) transport.SpawnOptions
	// OnFrame receives every frame from a worker that is not a control
	// token (READY/TICK) the pool itself consumes — i.e. Call Responses
	// and worker-initiated Call Requests, which the facade owns.
	OnFrame func(workerID int, frame []byte)
	// OnExit, if set, fires once per worker death (normal or not), after
	// the dead handle has been removed from the live set but before any
	// replacement is spawned. The facade uses this to fail pending calls
	// addressed to that worker with ErrTransportFailure.
	OnExit func(workerID int, status transport.ExitStatus, normal bool)
	Logger *slog.Logger
}

// Pool holds the live worker set. Per spec.md §3, the facade
// exclusively owns the Pool, and the Pool exclusively owns each Handle.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	workers  []*Handle
	nextID   int
	started  bool
	stopping bool
}

// New validates cfg and returns an unstarted Pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Min < 1 {
		return nil, fmt.Errorf("pool: ConfigError: min workers must be >= 1, got %d", cfg.Min)
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{cfg: cfg, logger: logger}, nil
}

// Start spawns Min workers and returns once the adapter's Spawn has
// returned for each of them. It does not wait for a worker's READY
// token; recvLoop sets Handle.Ready later, on the first non-TICK frame.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pool: already started")
	}
	p.started = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, p.cfg.Min)
	for i := 0; i < p.cfg.Min; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.spawnWorker(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// spawnWorker spawns one worker, wires its receive/exit loops, and
// appends it to the live set. Used both by Start and by on-demand
// scaling / unexpected-exit replacement.
func (p *Pool) spawnWorker(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	opts := p.cfg.SpawnOptions(id)
	opts.WorkerID = id
	p.mu.Unlock()

	w, err := p.cfg.Adapter.Spawn(ctx, p.cfg.Entry, opts)
	if err != nil {
		return nil, fmt.Errorf("pool: spawn worker %d: %w", id, err)
	}

	h := &Handle{ID: id, Worker: w}

	p.mu.Lock()
	p.workers = append(p.workers, h)
	p.mu.Unlock()

	go p.recvLoop(h)
	go p.exitLoop(h)

	p.logger.Info("pool: worker spawned", "worker_id", id)
	return h, nil
}

// recvLoop consumes frames from one worker, handling READY/TICK itself
// and forwarding everything else to cfg.OnFrame.
func (p *Pool) recvLoop(h *Handle) {
	for frame := range h.Worker.Recv() {
		msg, err := protocol.Parse(frame)
		if err != nil {
			continue // malformed frames are dropped, per spec.md §4.4
		}
		switch {
		case msg.Control == protocol.TokenReady:
			h.Ready.Store(true)
			h.touch()
		case msg.Control == protocol.TokenTick:
			h.touch()
		default:
			if !h.Ready.Load() {
				h.Ready.Store(true)
			}
			h.touch()
			if p.cfg.OnFrame != nil {
				p.cfg.OnFrame(h.ID, frame)
			}
		}
	}
}

// exitLoop waits for a worker's terminal status and, if unexpected,
// spawns a replacement immediately — spec.md §4.6's "exiting" state and
// §7's TransportFailure recovery rule.
func (p *Pool) exitLoop(h *Handle) {
	status, ok := <-h.Worker.Exit()
	if !ok {
		return
	}

	p.mu.Lock()
	for i, w := range p.workers {
		if w == h {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	stopping := p.stopping
	p.mu.Unlock()

	normal := p.cfg.Adapter.NormalExit(status)
	if p.cfg.OnExit != nil {
		p.cfg.OnExit(h.ID, status, normal)
	}

	if stopping {
		return
	}

	if !normal {
		p.logger.Warn("pool: worker exited unexpectedly, replacing", "worker_id", h.ID, "code", status.Code, "signal", status.Signal)
		if _, err := p.spawnWorker(context.Background()); err != nil {
			p.logger.Error("pool: failed to replace crashed worker", "worker_id", h.ID, "error", err)
		}
	}
}

// Send delivers a frame to the worker with the given id.
func (p *Pool) Send(workerID int, frame []byte) error {
	p.mu.Lock()
	var h *Handle
	for _, w := range p.workers {
		if w.ID == workerID {
			h = w
			break
		}
	}
	p.mu.Unlock()
	if h == nil {
		return fmt.Errorf("pool: no such worker %d", workerID)
	}
	return h.Worker.Send(frame)
}

// Len returns the current pool size, matching the facade's workers().
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Min and Max expose the frozen bounds.
func (p *Pool) Min() int { return p.cfg.Min }
func (p *Pool) Max() int { return p.cfg.Max }

// Terminate fans Terminate out to every live worker concurrently and
// waits for all of them, per spec.md §4.6.
func (p *Pool) Terminate(ctx context.Context) error {
	p.mu.Lock()
	p.stopping = true
	workers := make([]*Handle, len(p.workers))
	copy(workers, p.workers)
	p.workers = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(workers))
	for _, h := range workers {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := p.cfg.Adapter.Terminate(ctx, h.Worker); err != nil {
				errCh <- fmt.Errorf("worker %d: %w", h.ID, err)
			}
		}(h)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
