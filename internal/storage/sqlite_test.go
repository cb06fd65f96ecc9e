package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAlertPersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	alert := model.Alert{
		ID:          "a1",
		RuleID:      "brute_force_login",
		RuleName:    "Brute-force login",
		Severity:    model.SeverityHigh,
		Description: "Multiple failed login attempts",
		TriggeredAt: triggered,
		SourceIP:    "10.0.0.5",
		Username:    "admin",
		EventIDs:    []string{"e1", "e2"},
		Count:       5,
		DedupKey:    "brute_force_login|10.0.0.5",
		State:       model.AlertStateNew,
	}
	if err := store.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("save: %v", err)
	}

	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	alert.State = model.AlertStateResolved
	alert.AcknowledgedBy = "alice"
	alert.AcknowledgedAt = &now
	alert.ResolvedBy = "alice"
	alert.ResolvedAt = &now
	alert.Notes = "confirmed scanner"
	if err := store.UpdateAlert(ctx, alert); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.LoadAlerts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d alerts", len(loaded))
	}
	got := loaded[0]
	if got.ID != "a1" || got.State != model.AlertStateResolved || got.Notes != "confirmed scanner" {
		t.Fatalf("loaded: %+v", got)
	}
	if !got.TriggeredAt.Equal(triggered) {
		t.Fatalf("triggered_at: %s", got.TriggeredAt)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(now) {
		t.Fatalf("resolved_at: %v", got.ResolvedAt)
	}
	if len(got.EventIDs) != 2 || got.EventIDs[0] != "e1" {
		t.Fatalf("event ids: %v", got.EventIDs)
	}
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if data, err := store.LoadState(ctx); err != nil || data != nil {
		t.Fatalf("empty state: %v %v", data, err)
	}
	if err := store.SaveState(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if err := store.SaveState(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite state: %v", err)
	}
	data, err := store.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Fatalf("state: %s", data)
	}
}

func TestDisabledStorageIsNil(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store != nil {
		t.Fatalf("disabled storage: %v %v", store, err)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
