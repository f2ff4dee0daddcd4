package pool

import (
	"context"
)

// Select implements spec.md §4.6's dispatch policy, including the
// hybrid rule: round-robin is deferred until the pool has grown to Max
// (before that there is no stable modulus), and a stale pick triggers
// an inline scale-up used for the current call.
func (p *Pool) Select(ctx context.Context, uid uint64) (*Handle, error) {
	p.mu.Lock()
	started := p.started
	n := len(p.workers)
	p.mu.Unlock()

	if !started {
		return nil, ErrNotStarted
	}
	if n == 0 {
		return nil, ErrEmptyPool
	}

	useRoundRobin := p.cfg.Policy == PolicyRoundRobin && n >= p.cfg.Max

	var chosen *Handle
	if useRoundRobin {
		p.mu.Lock()
		chosen = p.workers[int(uid)%len(p.workers)]
		p.mu.Unlock()
	} else {
		chosen = p.mostRecentlyResponsive()
	}

	if chosen == nil {
		return nil, ErrEmptyPool
	}

	if chosen.stale() && n < p.cfg.Max {
		h, err := p.spawnWorker(ctx)
		if err != nil {
			// Scaling failed; fall back to the stale worker rather than
			// fail the call outright.
			return chosen, nil
		}
		return h, nil
	}

	return chosen, nil
}

// mostRecentlyResponsive implements the "largest lastTickAt" rule used
// both as the default least-time policy and as the fallback before the
// pool reaches Max under round-robin.
func (p *Pool) mostRecentlyResponsive() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Handle
	var bestAt int64 = -1
	for _, h := range p.workers {
		at := h.LastTickAt.Load()
		if at >= bestAt {
			best = h
			bestAt = at
		}
	}
	return best
}
