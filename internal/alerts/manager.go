// Package alerts owns the alert lifecycle: creation on admitted threshold
// crossings, the new/acknowledged/resolved state machine with operator
// notes, and query access for the API layer. The in-memory set is
// authoritative; writes flow through to storage when configured.
package alerts

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sentinelwatch/internal/metrics"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/storage"
)

// Releaser ends suppression for a dedup key when its alert is resolved.
// Implemented by the engine's guard.
type Releaser interface {
	Release(key string)
}

type persistOp struct {
	alert  model.Alert
	update bool
}

type Manager struct {
	mu       sync.RWMutex
	byID     map[string]*model.Alert
	order    []string
	store    storage.Store
	releaser Releaser
	logger   *slog.Logger
	queue    chan persistOp
	done     chan struct{}
}

func NewManager(store storage.Store, logger *slog.Logger) *Manager {
	m := &Manager{
		byID:   make(map[string]*model.Alert),
		store:  store,
		logger: logger,
	}
	if store != nil {
		m.queue = make(chan persistOp, 1024)
		m.done = make(chan struct{})
		go m.writer()
	}
	return m
}

// writer drains the persistence queue. The in-memory set is authoritative;
// storage writes trail it so neither the detection path nor a lifecycle call
// ever waits on the database.
func (m *Manager) writer() {
	defer close(m.done)
	for op := range m.queue {
		var err error
		if op.update {
			err = m.store.UpdateAlert(context.Background(), op.alert)
		} else {
			err = m.store.SaveAlert(context.Background(), op.alert)
		}
		if err != nil && m.logger != nil {
			m.logger.Error("persist alert failed", "alert_id", op.alert.ID, "err", err)
		}
	}
}

func (m *Manager) enqueue(op persistOp) {
	if m.queue == nil {
		return
	}
	select {
	case m.queue <- op:
	default:
		if m.logger != nil {
			m.logger.Warn("persistence queue full, dropping write", "alert_id", op.alert.ID)
		}
	}
}

// Close flushes queued writes and stops the writer. Call once, after the
// engine has stopped emitting alerts.
func (m *Manager) Close() {
	if m.queue == nil {
		return
	}
	close(m.queue)
	<-m.done
}

// SetReleaser wires the suppression guard; done after construction because
// the engine and the manager reference each other.
func (m *Manager) SetReleaser(r Releaser) {
	m.mu.Lock()
	m.releaser = r
	m.mu.Unlock()
}

// Create registers a newly admitted alert. The storage write is queued for
// the async writer; the detection path never blocks on storage I/O.
func (m *Manager) Create(alert model.Alert) {
	m.mu.Lock()
	stored := alert
	m.byID[alert.ID] = &stored
	m.order = append(m.order, alert.ID)
	m.mu.Unlock()

	metrics.AlertsCreated.WithLabelValues(alert.RuleName, string(alert.Severity)).Inc()
	m.enqueue(persistOp{alert: alert})
}

// Load rehydrates the in-memory set from storage at startup.
func (m *Manager) Load(alerts []model.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range alerts {
		a := alerts[i]
		if _, exists := m.byID[a.ID]; exists {
			continue
		}
		m.byID[a.ID] = &a
		m.order = append(m.order, a.ID)
	}
}

func (m *Manager) Get(id string) (model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return model.Alert{}, model.ErrAlertNotFound
	}
	return *a, nil
}

// Acknowledge moves a new alert to acknowledged. Idempotent: acknowledging
// an already acknowledged or resolved alert succeeds without change.
func (m *Manager) Acknowledge(id, analyst string) error {
	m.mu.Lock()
	a, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return model.ErrAlertNotFound
	}
	if a.State != model.AlertStateNew {
		m.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	a.State = model.AlertStateAcknowledged
	a.AcknowledgedBy = orSystem(analyst)
	a.AcknowledgedAt = &now
	updated := *a
	m.mu.Unlock()

	metrics.AlertTransitions.WithLabelValues("acknowledge").Inc()
	m.persistUpdate(updated)
	return nil
}

// Resolve is terminal: new or acknowledged alerts become resolved, and the
// suppression window for the alert's dedup key is released so the next
// crossing creates a fresh alert. Resolving twice is a no-op success.
func (m *Manager) Resolve(id, analyst string) error {
	m.mu.Lock()
	a, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return model.ErrAlertNotFound
	}
	if a.State == model.AlertStateResolved {
		m.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	a.State = model.AlertStateResolved
	a.ResolvedBy = orSystem(analyst)
	a.ResolvedAt = &now
	if a.AcknowledgedAt == nil {
		a.AcknowledgedBy = orSystem(analyst)
		a.AcknowledgedAt = &now
	}
	updated := *a
	releaser := m.releaser
	m.mu.Unlock()

	metrics.AlertTransitions.WithLabelValues("resolve").Inc()
	if releaser != nil {
		releaser.Release(updated.DedupKey)
	}
	m.persistUpdate(updated)
	return nil
}

// AddNote sets the operator note, permitted in any state.
func (m *Manager) AddNote(id, text string) error {
	m.mu.Lock()
	a, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return model.ErrAlertNotFound
	}
	a.Notes = text
	updated := *a
	m.mu.Unlock()

	m.persistUpdate(updated)
	return nil
}

// Filter selects alerts for List. Zero values mean "any".
type Filter struct {
	Severity model.Severity
	RuleName string
	Resolved *bool
	Since    time.Time
	Until    time.Time
	Limit    int
}

// List returns matching alerts most-recent-first by trigger time.
func (m *Manager) List(f Filter) []model.Alert {
	m.mu.RLock()
	out := make([]model.Alert, 0, len(m.order))
	for _, id := range m.order {
		a := m.byID[id]
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.RuleName != "" && a.RuleName != f.RuleName {
			continue
		}
		if f.Resolved != nil && a.Resolved() != *f.Resolved {
			continue
		}
		if !f.Since.IsZero() && a.TriggeredAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && a.TriggeredAt.After(f.Until) {
			continue
		}
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Counts summarizes the alert set for the dashboard: total alerts plus
// unresolved counts by severity.
type Counts struct {
	Total      int                    `json:"total_alerts"`
	Open       int                    `json:"open_alerts"`
	BySeverity map[model.Severity]int `json:"alerts_by_severity"`
}

func (m *Manager) Counts() Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := Counts{
		Total: len(m.byID),
		BySeverity: map[model.Severity]int{
			model.SeverityLow:      0,
			model.SeverityMedium:   0,
			model.SeverityHigh:     0,
			model.SeverityCritical: 0,
		},
	}
	for _, a := range m.byID {
		if a.Resolved() {
			continue
		}
		c.Open++
		c.BySeverity[a.Severity]++
	}
	return c
}

func (m *Manager) persistUpdate(alert model.Alert) {
	m.enqueue(persistOp{alert: alert, update: true})
}

func orSystem(analyst string) string {
	if analyst == "" {
		return "system"
	}
	return analyst
}
