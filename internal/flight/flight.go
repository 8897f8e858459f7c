// Package flight implements a single-flight-per-key run policy: at most one
// pipeline run may be in flight for a given trigger key, and starting a new
// run signals cancellation to the previous holder of the key.
package flight

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"git.home.luguber.info/inful/relforge/internal/logfields"
)

type entry struct {
	runID  string
	cancel context.CancelFunc
}

// Group tracks in-flight runs by trigger key.
type Group struct {
	mu       sync.Mutex
	inflight map[string]*entry
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{inflight: make(map[string]*entry)}
}

// Begin registers runID under key and returns a context derived from parent
// that is canceled when a newer run claims the same key. Any prior run on the
// key is canceled immediately. The returned release function must be called
// when the run finishes; it is a no-op if the run was already superseded.
func (g *Group) Begin(parent context.Context, key, runID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	if prev, ok := g.inflight[key]; ok {
		slog.Info("Superseding in-flight run", logfields.Name(key), logfields.RunID(prev.runID))
		prev.cancel()
	}
	e := &entry{runID: runID, cancel: cancel}
	g.inflight[key] = e
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		if cur, ok := g.inflight[key]; ok && cur == e {
			delete(g.inflight, key)
		}
		g.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// InFlight returns the run IDs currently holding keys, sorted by key.
func (g *Group) InFlight() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.inflight))
	for k, e := range g.inflight {
		out[k] = e.runID
	}
	return out
}

// Keys returns the sorted set of keys with a run in flight.
func (g *Group) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
