package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

// Store persists alerts and engine state snapshots so open windows and
// suppression timers survive a restart.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	UpdateAlert(ctx context.Context, alert model.Alert) error
	LoadAlerts(ctx context.Context) ([]model.Alert, error)
	SaveState(ctx context.Context, data []byte) error
	LoadState(ctx context.Context) ([]byte, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// scanAlerts decodes rows from the alerts table; both backends share the
// column layout.
func scanAlerts(rows *sql.Rows) ([]model.Alert, error) {
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var triggeredAt, eventIDs string
		var ackAt, resAt sql.NullString
		var ackBy, resBy, notes sql.NullString
		if err := rows.Scan(
			&a.ID, &a.RuleID, &a.RuleName, &a.Severity, &a.Description,
			&triggeredAt, &a.SourceIP, &a.Username, &a.CountryCode,
			&eventIDs, &a.Count, &a.DedupKey, &a.State,
			&ackBy, &ackAt, &resBy, &resAt, &notes,
		); err != nil {
			return nil, err
		}
		a.TriggeredAt = decodeTime(triggeredAt)
		if eventIDs != "" {
			_ = json.Unmarshal([]byte(eventIDs), &a.EventIDs)
		}
		a.AcknowledgedBy = ackBy.String
		a.ResolvedBy = resBy.String
		a.Notes = notes.String
		if ackAt.Valid && ackAt.String != "" {
			t := decodeTime(ackAt.String)
			a.AcknowledgedAt = &t
		}
		if resAt.Valid && resAt.String != "" {
			t := decodeTime(resAt.String)
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
