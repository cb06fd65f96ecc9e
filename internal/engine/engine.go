// Package engine is the detection core: it evaluates normalized events
// against the active rule set, maintains per (rule, group) sliding windows,
// and turns admitted threshold crossings into alerts.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"sentinelwatch/internal/alerts"
	"sentinelwatch/internal/config"
	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/rules"
	"sentinelwatch/internal/storage"
)

type Engine struct {
	logger           *slog.Logger
	registry         *rules.Registry
	manager          *alerts.Manager
	store            storage.Store
	agg              *Aggregator
	guard            *Guard
	dedupeMu         sync.Mutex
	dedupe           *expirable.LRU[string, struct{}]
	blocklist        atomic.Value
	sweepInterval    time.Duration
	snapshotInterval time.Duration
}

func NewEngine(cfg *config.Config, logger *slog.Logger, registry *rules.Registry, manager *alerts.Manager, store storage.Store) *Engine {
	e := &Engine{
		logger:           logger,
		registry:         registry,
		manager:          manager,
		store:            store,
		agg:              NewAggregator(),
		guard:            NewGuard(),
		sweepInterval:    cfg.Detection.SweepInterval.Std(),
		snapshotInterval: cfg.Detection.SnapshotInterval.Std(),
	}
	if ttl := cfg.Detection.DedupeWindow.Std(); ttl > 0 {
		e.dedupe = expirable.NewLRU[string, struct{}](cfg.Detection.DedupeCacheSize, nil, ttl)
	}
	e.blocklist.Store(buildBlockSet(cfg.Blocklist))
	if manager != nil {
		manager.SetReleaser(e.guard)
	}
	return e
}

// Guard exposes the suppression guard, mainly for wiring and tests.
func (e *Engine) SuppressionGuard() *Guard {
	return e.guard
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.blocklist.Store(buildBlockSet(cfg.Blocklist))
}

// Start consumes events from in until ctx is cancelled, running the
// periodic window sweep and, when storage is configured, state snapshots.
func (e *Engine) Start(ctx context.Context, in <-chan model.Event) {
	go func() {
		sweep := time.NewTicker(e.sweepInterval)
		defer sweep.Stop()
		var snapshot <-chan time.Time
		if e.store != nil {
			t := time.NewTicker(e.snapshotInterval)
			defer t.Stop()
			snapshot = t.C
		}
		for {
			select {
			case ev := <-in:
				if _, err := e.ProcessEvent(ev); err != nil && e.logger != nil {
					e.logger.Warn("event rejected", "source", ev.Source, "err", err)
				}
			case <-sweep.C:
				e.agg.Sweep(time.Now().UTC())
			case <-snapshot:
				if err := e.SaveState(ctx); err != nil && e.logger != nil {
					e.logger.Error("state snapshot failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessEvent evaluates one event against the active rule set and returns
// any alerts it produced. An event matching no rules is a silent no-op; an
// event missing a group-by field simply skips that rule. Only a structural
// defect (zero timestamp) is an error.
func (e *Engine) ProcessEvent(ev model.Event) ([]model.Alert, error) {
	if ev.Timestamp.IsZero() {
		metrics.EventsRejected.Inc()
		return nil, fmt.Errorf("%w: missing timestamp", model.ErrIngestRejected)
	}
	if e.dedupe != nil && ev.ID != "" {
		// Check-and-insert under one lock so concurrent copies of the
		// same event id cannot both pass and double-count.
		e.dedupeMu.Lock()
		_, seen := e.dedupe.Get(ev.ID)
		if !seen {
			e.dedupe.Add(ev.ID, struct{}{})
		}
		e.dedupeMu.Unlock()
		if seen {
			metrics.EventsDuplicate.Inc()
			return nil, nil
		}
	}
	metrics.EventsIngested.WithLabelValues(sourceLabel(ev.Source)).Inc()

	ts := ev.Timestamp.UTC()
	var out []model.Alert

	if alert, ok := e.checkBlocklist(ev, ts); ok {
		out = append(out, alert)
		e.emit(alert)
	}

	for _, rule := range e.registry.Snapshot() {
		if !rule.Matches(ev) {
			continue
		}
		key, ok := rule.GroupKey(ev)
		if !ok {
			continue
		}
		count, reached, contextIDs := e.agg.RecordAndCheck(key, rule.Window, rule.Threshold, ts, ev.ID)
		if !reached {
			continue
		}
		metrics.CrossingsDetected.WithLabelValues(rule.Name).Inc()
		if !e.guard.Admit(key, rule.Cooldown, ts) {
			metrics.CrossingsSuppressed.WithLabelValues(rule.Name).Inc()
			continue
		}
		alert := buildAlert(rule, ev, key, count, contextIDs, ts)
		out = append(out, alert)
		e.emit(alert)
	}
	return out, nil
}

func (e *Engine) emit(alert model.Alert) {
	if e.manager != nil {
		e.manager.Create(alert)
	}
	if e.logger != nil {
		e.logger.Warn("alert triggered",
			"alert_id", alert.ID,
			"rule", alert.RuleName,
			"severity", alert.Severity,
			"dedup_key", alert.DedupKey,
			"count", alert.Count,
		)
	}
}

func buildAlert(rule model.Rule, ev model.Event, key string, count int, contextIDs []string, ts time.Time) model.Alert {
	return model.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Description: describeCrossing(rule, ev, count),
		TriggeredAt: ts,
		SourceIP:    ev.SourceIP,
		Username:    ev.Username,
		CountryCode: ev.CountryCode,
		EventIDs:    contextIDs,
		Count:       count,
		DedupKey:    key,
		State:       model.AlertStateNew,
	}
}

func describeCrossing(rule model.Rule, ev model.Event, count int) string {
	label := rule.Description
	if label == "" {
		label = rule.Name
	}
	parts := make([]string, 0, len(rule.GroupBy))
	for _, field := range rule.GroupBy {
		parts = append(parts, field+"="+ev.Field(field))
	}
	return fmt.Sprintf("%s: %d events in %s (%s)", label, count, rule.Window, strings.Join(parts, " "))
}

func sourceLabel(source string) string {
	if source == "" {
		return "direct"
	}
	return source
}

// SyncRules discards aggregation and suppression state for rules no longer
// in the active set, so a re-enabled rule starts fresh.
func (e *Engine) SyncRules() {
	ids := e.registry.ActiveIDs()
	keep := func(key string) bool {
		rid := model.KeyRuleID(key)
		return rid == blocklistRuleID || ids[rid]
	}
	e.agg.Prune(keep)
	e.guard.Prune(keep)
}

// Reset drops all window and suppression state.
func (e *Engine) Reset() {
	e.agg.Prune(func(string) bool { return false })
	e.guard.Prune(func(string) bool { return false })
	if e.dedupe != nil {
		e.dedupe.Purge()
	}
}

type persistedState struct {
	Windows     WindowSnapshot       `json:"windows"`
	Suppression map[string]time.Time `json:"suppression"`
}

// ExportState serializes open windows and suppression timers so they can be
// rehydrated after a restart.
func (e *Engine) ExportState() ([]byte, error) {
	return json.Marshal(persistedState{
		Windows:     e.agg.Snapshot(),
		Suppression: e.guard.Snapshot(),
	})
}

func (e *Engine) ImportState(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode engine state: %w", err)
	}
	e.agg.Restore(st.Windows)
	e.guard.Restore(st.Suppression)
	return nil
}

func (e *Engine) SaveState(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	data, err := e.ExportState()
	if err != nil {
		return err
	}
	return e.store.SaveState(ctx, data)
}

func (e *Engine) LoadState(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	data, err := e.store.LoadState(ctx)
	if err != nil {
		return err
	}
	return e.ImportState(data)
}
