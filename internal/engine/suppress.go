package engine

import (
	"sync"
	"time"
)

// Guard suppresses repeat alerts for a (rule, group) key while a cooldown
// is active. Admit is an atomic check-and-set so two concurrent crossings
// for the same key cannot both create an alert.
type Guard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewGuard() *Guard {
	return &Guard{last: make(map[string]time.Time)}
}

// Admit reports whether a crossing for key may become an alert, and on
// admission records now as the suppression start. A key is admitted when it
// has no prior alert or the prior alert's cooldown has elapsed.
func (g *Guard) Admit(key string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	g.last[key] = now
	return true
}

// Release ends suppression for key early. Called when the open alert for
// the key is resolved: an operator closing an issue re-arms detection
// immediately.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, key)
}

// Prune drops suppression entries the keep predicate rejects, mirroring the
// aggregator's state discard for disabled or removed rules.
func (g *Guard) Prune(keep func(key string) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.last {
		if !keep(key) {
			delete(g.last, key)
		}
	}
}

func (g *Guard) Snapshot() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time, len(g.last))
	for k, v := range g.last {
		out[k] = v
	}
	return out
}

func (g *Guard) Restore(last map[string]time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[string]time.Time, len(last))
	for k, v := range last {
		g.last[k] = v
	}
}
