// Package normalize maps parsed log fields onto the event schema consumed
// by the detection engine.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

type EventFields struct {
	EventID     string
	Timestamp   string
	SourceIP    string
	Username    string
	EventType   string
	Status      string
	CountryCode string
	Extras      map[string]string
	Raw         string
}

func Normalize(fields EventFields, cfg *config.Config) (model.Event, error) {
	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	eventType := strings.ToLower(strings.TrimSpace(fields.EventType))
	if eventType == "" {
		eventType = cfg.Ingest.Parser.DefaultEventType
	}

	id := strings.TrimSpace(fields.EventID)
	if id == "" {
		id = uuid.New().String()
	}

	return model.Event{
		ID:          id,
		Timestamp:   ts,
		SourceIP:    strings.TrimSpace(fields.SourceIP),
		Username:    strings.TrimSpace(fields.Username),
		EventType:   eventType,
		Status:      ParseStatus(fields.Status),
		CountryCode: strings.ToUpper(strings.TrimSpace(fields.CountryCode)),
		Raw:         fields.Raw,
	}, nil
}

// ParseStatus folds the status vocabulary found in real logs onto the two
// canonical values the rules filter on.
func ParseStatus(status string) string {
	n := strings.ToLower(strings.TrimSpace(status))
	switch n {
	case "ok", "success", "succeeded", "accepted", "allow", "allowed", "granted", "pass":
		return model.StatusSuccess
	case "fail", "failed", "failure", "denied", "deny", "reject", "rejected", "invalid", "error":
		return model.StatusFailed
	}
	if n == "" {
		return "unknown"
	}
	return n
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"02/Jan/2006:15:04:05",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			// Syslog style carries no year; assume the current one.
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
