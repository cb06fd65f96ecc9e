package engine

import (
	"sync"
	"time"
)

// EventRef is one retained window entry: the event timestamp plus the event
// id kept for alert context.
type EventRef struct {
	Timestamp time.Time `json:"ts"`
	EventID   string    `json:"event_id,omitempty"`
}

type groupWindow struct {
	mu      sync.Mutex
	window  time.Duration
	entries []EventRef
	head    int
	dead    bool
}

// Aggregator tracks per (rule, group) sliding windows of event timestamps.
// RecordAndCheck is atomic per key; independent keys update in parallel.
type Aggregator struct {
	mu     sync.RWMutex
	groups map[string]*groupWindow
}

func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[string]*groupWindow)}
}

func (a *Aggregator) group(key string, window time.Duration) *groupWindow {
	a.mu.RLock()
	g, ok := a.groups[key]
	a.mu.RUnlock()
	if ok {
		return g
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.groups[key]; ok {
		return g
	}
	g = &groupWindow{window: window, entries: make([]EventRef, 0, 16)}
	a.groups[key] = g
	return g
}

// RecordAndCheck evicts expired entries, inserts the event, and reports the
// resulting count plus whether the window now holds at least threshold
// entries. Detection is level-triggered: every event at or above the
// threshold reports true, and the suppression guard decides which of those
// become alerts, so releasing the guard re-arms detection even while the
// window stays full. On a hit it also returns the ids of the events in the
// retained window, oldest first.
func (a *Aggregator) RecordAndCheck(key string, window time.Duration, threshold int, ts time.Time, eventID string) (int, bool, []string) {
	var g *groupWindow
	for {
		g = a.group(key, window)
		g.mu.Lock()
		if !g.dead {
			break
		}
		// Swept out from under us between lookup and lock; retry.
		g.mu.Unlock()
	}
	defer g.mu.Unlock()
	g.window = window
	g.evict(ts.Add(-window))
	g.entries = append(g.entries, EventRef{Timestamp: ts, EventID: eventID})
	count := len(g.entries) - g.head
	reached := count >= threshold
	var context []string
	if reached {
		context = make([]string, 0, count)
		for _, e := range g.entries[g.head:] {
			if e.EventID != "" {
				context = append(context, e.EventID)
			}
		}
	}
	return count, reached, context
}

// Count reports the retained count for a key as of now, without recording.
func (a *Aggregator) Count(key string, now time.Time) int {
	a.mu.RLock()
	g, ok := a.groups[key]
	a.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(now.Add(-g.window))
	return len(g.entries) - g.head
}

// evict drops entries at or beyond the window boundary. The window is
// half-open (now-window, now]: an entry exactly window old is dropped.
func (g *groupWindow) evict(cutoff time.Time) {
	for g.head < len(g.entries) {
		if g.entries[g.head].Timestamp.After(cutoff) {
			break
		}
		g.head++
	}
	if g.head > 0 && g.head*2 >= len(g.entries) {
		g.entries = append([]EventRef{}, g.entries[g.head:]...)
		g.head = 0
	}
}

// Sweep evicts expired entries in every group and garbage-collects groups
// whose windows have drained, bounding memory for inactive keys.
func (a *Aggregator) Sweep(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, g := range a.groups {
		g.mu.Lock()
		g.evict(now.Add(-g.window))
		if len(g.entries)-g.head == 0 {
			g.dead = true
			delete(a.groups, key)
		}
		g.mu.Unlock()
	}
}

// Prune removes all groups the keep predicate rejects. Used when a rule is
// disabled or removed so re-enabling starts from empty state.
func (a *Aggregator) Prune(keep func(key string) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, g := range a.groups {
		if !keep(key) {
			g.mu.Lock()
			g.dead = true
			g.mu.Unlock()
			delete(a.groups, key)
		}
	}
}

// WindowSnapshot is the serializable form of the aggregator state.
type WindowSnapshot map[string]GroupSnapshot

type GroupSnapshot struct {
	Window  time.Duration `json:"window"`
	Entries []EventRef    `json:"entries"`
}

func (a *Aggregator) Snapshot() WindowSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(WindowSnapshot, len(a.groups))
	for key, g := range a.groups {
		g.mu.Lock()
		live := g.entries[g.head:]
		if len(live) > 0 {
			entries := make([]EventRef, len(live))
			copy(entries, live)
			out[key] = GroupSnapshot{Window: g.window, Entries: entries}
		}
		g.mu.Unlock()
	}
	return out
}

func (a *Aggregator) Restore(snapshot WindowSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.groups = make(map[string]*groupWindow, len(snapshot))
	for key, gs := range snapshot {
		entries := make([]EventRef, len(gs.Entries))
		copy(entries, gs.Entries)
		a.groups[key] = &groupWindow{window: gs.Window, entries: entries}
	}
}
