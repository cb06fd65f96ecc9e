package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sentinelwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sentinelwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			rule_name TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL,
			triggered_at TEXT NOT NULL,
			source_ip TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			country_code TEXT NOT NULL DEFAULT '',
			event_ids_json JSONB NOT NULL DEFAULT '[]',
			count INTEGER NOT NULL,
			dedup_key TEXT NOT NULL,
			state TEXT NOT NULL,
			acknowledged_by TEXT,
			acknowledged_at TEXT,
			resolved_by TEXT,
			resolved_at TEXT,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triggered_at ON alerts(triggered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedup_key ON alerts(dedup_key)`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, rule_id, rule_name, severity, description, triggered_at,
			source_ip, username, country_code, event_ids_json, count, dedup_key, state,
			acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		alert.ID,
		alert.RuleID,
		alert.RuleName,
		string(alert.Severity),
		alert.Description,
		encodeTime(alert.TriggeredAt),
		alert.SourceIP,
		alert.Username,
		alert.CountryCode,
		encodeJSON(alert.EventIDs),
		alert.Count,
		alert.DedupKey,
		string(alert.State),
		alert.AcknowledgedBy,
		encodeTimePtr(alert.AcknowledgedAt),
		alert.ResolvedBy,
		encodeTimePtr(alert.ResolvedAt),
		alert.Notes,
	)
	return err
}

func (s *postgresStore) UpdateAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET state = $1, acknowledged_by = $2, acknowledged_at = $3,
			resolved_by = $4, resolved_at = $5, notes = $6
		WHERE alert_id = $7`,
		string(alert.State),
		alert.AcknowledgedBy,
		encodeTimePtr(alert.AcknowledgedAt),
		alert.ResolvedBy,
		encodeTimePtr(alert.ResolvedAt),
		alert.Notes,
		alert.ID,
	)
	return err
}

func (s *postgresStore) LoadAlerts(ctx context.Context) ([]model.Alert, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, rule_id, rule_name, severity, description, triggered_at,
			source_ip, username, country_code, event_ids_json::text, count, dedup_key, state,
			acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes
		FROM alerts ORDER BY triggered_at ASC`)
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

func (s *postgresStore) SaveState(ctx context.Context, data []byte) error {
	if s.db == nil || len(data) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_state (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		string(data), encodeTime(nowUTC()))
	return err
}

func (s *postgresStore) LoadState(ctx context.Context) ([]byte, error) {
	if s.db == nil {
		return nil, nil
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM engine_state WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}
