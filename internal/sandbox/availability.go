package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type probeResult struct {
	err     error
	checked time.Time
}

// Availability caches runtime probes per mode. Results are reused for the
// configured TTL; Invalidate forces the next check to probe again.
type Availability struct {
	probes map[Mode]Probe
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[Mode]probeResult
}

// NewAvailability creates a cache over the given probes. Modes without a
// probe are always available.
func NewAvailability(probes map[Mode]Probe, ttl time.Duration) *Availability {
	return &Availability{
		probes: probes,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[Mode]probeResult),
	}
}

// Check returns nil when the mode can be used
func (a *Availability) Check(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	probe, ok := a.probes[mode]
	if !ok {
		return nil
	}

	a.mu.Lock()
	res, cached := a.cache[mode]
	a.mu.Unlock()
	if cached && a.now().Sub(res.checked) < a.ttl {
		return res.err
	}

	err := probe(ctx)
	if err != nil {
		err = fmt.Errorf("%s: %w", mode, err)
	}

	a.mu.Lock()
	a.cache[mode] = probeResult{err: err, checked: a.now()}
	a.mu.Unlock()
	return err
}

// Available lists the usable modes in preference order
func (a *Availability) Available(ctx context.Context) []Mode {
	var modes []Mode
	for _, m := range Modes {
		if a.Check(ctx, m) == nil {
			modes = append(modes, m)
		}
	}
	return modes
}

// Invalidate drops every cached probe result
func (a *Availability) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[Mode]probeResult)
}
