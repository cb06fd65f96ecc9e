package normalize

import (
	"testing"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

func TestNormalizeBasicFields(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{
		Timestamp:   "2026-03-01T12:00:00Z",
		SourceIP:    "10.0.0.5",
		Username:    "Admin",
		EventType:   "LOGIN",
		Status:      "denied",
		CountryCode: "de",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Timestamp != time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("timestamp: %s", ev.Timestamp)
	}
	if ev.EventType != "login" || ev.Status != model.StatusFailed || ev.CountryCode != "DE" {
		t.Fatalf("fields: %+v", ev)
	}
	if ev.ID == "" {
		t.Fatalf("missing generated event id")
	}
}

func TestNormalizeDefaultsEventType(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{Timestamp: "2026-03-01 12:00:00", SourceIP: "10.0.0.5"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.EventType != cfg.Ingest.Parser.DefaultEventType {
		t.Fatalf("event type: %s", ev.EventType)
	}
}

func TestNormalizeBadTimestamp(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := Normalize(EventFields{Timestamp: "not-a-time"}, cfg); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
}

func TestParseStatusFolding(t *testing.T) {
	cases := map[string]string{
		"OK":       model.StatusSuccess,
		"Accepted": model.StatusSuccess,
		"granted":  model.StatusSuccess,
		"FAILED":   model.StatusFailed,
		"denied":   model.StatusFailed,
		"rejected": model.StatusFailed,
		"":         "unknown",
		"timeout":  "timeout",
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	cases := []string{
		"2026-03-01T12:00:00Z",
		"2026-03-01T12:00:00.250Z",
		"2026-03-01 12:00:00",
		"01/Mar/2026:12:00:00",
		"1772366400",
		"1772366400000",
	}
	for _, in := range cases {
		if _, err := ParseTimestamp(in, time.UTC); err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
	}
}

func TestParseTimestampSyslogAssumesCurrentYear(t *testing.T) {
	got, err := ParseTimestamp("Mar  1 12:00:00", time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Year() != time.Now().UTC().Year() {
		t.Fatalf("year: %d", got.Year())
	}
	if got.Month() != time.March || got.Hour() != 12 {
		t.Fatalf("parsed: %s", got)
	}
}
