package engine

import (
	"sync"
	"testing"
	"time"
)

func TestGuardAdmitAndSuppress(t *testing.T) {
	g := NewGuard()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !g.Admit("k", 30*time.Minute, base) {
		t.Fatalf("first crossing should be admitted")
	}
	if g.Admit("k", 30*time.Minute, base.Add(10*time.Minute)) {
		t.Fatalf("crossing inside cooldown should be suppressed")
	}
	if !g.Admit("k", 30*time.Minute, base.Add(30*time.Minute)) {
		t.Fatalf("crossing at cooldown expiry should be admitted")
	}
}

func TestGuardZeroCooldownAlwaysAdmits(t *testing.T) {
	g := NewGuard()
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !g.Admit("k", 0, now) {
			t.Fatalf("zero cooldown should always admit")
		}
	}
}

func TestGuardRelease(t *testing.T) {
	g := NewGuard()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.Admit("k", time.Hour, base)
	g.Release("k")
	if !g.Admit("k", time.Hour, base.Add(time.Minute)) {
		t.Fatalf("released key should be re-armed")
	}
}

func TestGuardConcurrentSingleAdmission(t *testing.T) {
	g := NewGuard()
	ts := time.Now()
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit("k", time.Hour, ts) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("expected one admission, got %d", admitted)
	}
}

func TestGuardPrune(t *testing.T) {
	g := NewGuard()
	base := time.Now()
	g.Admit("a|x", time.Hour, base)
	g.Admit("b|x", time.Hour, base)
	g.Prune(func(key string) bool { return key == "b|x" })
	if !g.Admit("a|x", time.Hour, base.Add(time.Minute)) {
		t.Fatalf("pruned key should admit again")
	}
	if g.Admit("b|x", time.Hour, base.Add(time.Minute)) {
		t.Fatalf("kept key should stay suppressed")
	}
}
