package model

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

func (s Severity) Rank() int {
	return severityRank[s]
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Group-by field names a rule may partition its counters on.
const (
	FieldSourceIP    = "source_ip"
	FieldUsername    = "username"
	FieldCountryCode = "country_code"
)

// Event is a normalized security event handed to the detection engine.
// Events are immutable once ingested.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SourceIP    string    `json:"source_ip,omitempty"`
	Username    string    `json:"username,omitempty"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	CountryCode string    `json:"country_code,omitempty"`
	Source      string    `json:"source,omitempty"`
	Raw         string    `json:"raw,omitempty"`
}

func (e Event) Field(name string) string {
	switch name {
	case FieldSourceIP:
		return e.SourceIP
	case FieldUsername:
		return e.Username
	case FieldCountryCode:
		return e.CountryCode
	}
	return ""
}

// Rule is a threshold detection definition: count events matching the
// filters, grouped by the GroupBy fields, over a trailing Window.
type Rule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Enabled     bool          `json:"enabled"`
	EventType   string        `json:"event_type"`
	Status      string        `json:"status,omitempty"`
	GroupBy     []string      `json:"group_by"`
	Threshold   int           `json:"threshold"`
	Window      time.Duration `json:"window"`
	Cooldown    time.Duration `json:"cooldown"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description,omitempty"`
}

// Matches reports whether the event passes the rule's filters. Group-by
// field presence is checked separately by GroupKey.
func (r Rule) Matches(ev Event) bool {
	if r.EventType != "" && r.EventType != ev.EventType {
		return false
	}
	if r.Status != "" && r.Status != ev.Status {
		return false
	}
	return true
}

// GroupKey derives the aggregation key for an event. The second return is
// false when the event lacks a field the rule groups by; such events do not
// participate in the rule's evaluation.
func (r Rule) GroupKey(ev Event) (string, bool) {
	parts := make([]string, 0, len(r.GroupBy)+1)
	parts = append(parts, r.ID)
	for _, field := range r.GroupBy {
		v := ev.Field(field)
		if v == "" {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "|"), true
}

// KeyRuleID extracts the rule id prefix from a group key.
func KeyRuleID(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

type AlertState string

const (
	AlertStateNew          AlertState = "new"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// Alert is a persisted record of a detected threshold crossing. Created
// exactly once per admitted crossing; mutated only by lifecycle
// transitions.
type Alert struct {
	ID             string     `json:"alert_id"`
	RuleID         string     `json:"rule_id"`
	RuleName       string     `json:"rule_name"`
	Severity       Severity   `json:"severity"`
	Description    string     `json:"description"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	SourceIP       string     `json:"source_ip,omitempty"`
	Username       string     `json:"username,omitempty"`
	CountryCode    string     `json:"country_code,omitempty"`
	EventIDs       []string   `json:"event_ids,omitempty"`
	Count          int        `json:"count"`
	DedupKey       string     `json:"dedup_key"`
	State          AlertState `json:"state"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

func (a Alert) Resolved() bool {
	return a.State == AlertStateResolved
}

func (a Alert) Acknowledged() bool {
	return a.State == AlertStateAcknowledged || a.State == AlertStateResolved
}
