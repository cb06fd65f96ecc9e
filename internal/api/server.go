// Package api serves the operator HTTP surface: alert queries and lifecycle
// actions, dashboard stats, rule inspection and reload, and metrics.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinelwatch/internal/alerts"
	"sentinelwatch/internal/config"
	"sentinelwatch/internal/engine"
	"sentinelwatch/internal/model"
	"sentinelwatch/internal/rules"
)

type Server struct {
	cfgs     *config.Manager
	registry *rules.Registry
	engine   *engine.Engine
	alerts   *alerts.Manager
	logger   *slog.Logger
	started  time.Time
}

func NewServer(cfgs *config.Manager, registry *rules.Registry, eng *engine.Engine, mgr *alerts.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfgs:     cfgs,
		registry: registry,
		engine:   eng,
		alerts:   mgr,
		logger:   logger,
		started:  time.Now().UTC(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/alerts", s.handleAlertList)
	mux.HandleFunc("/api/alerts/", s.handleAlertSub)
	mux.HandleFunc("/api/dashboard/stats", s.handleDashboardStats)
	mux.HandleFunc("/api/rules", s.handleRules)
	mux.HandleFunc("/api/rules/reload", s.handleRulesReload)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	cfg := s.cfgs.Get()
	srv := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	counts := s.alerts.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"active_rules":   len(s.registry.Snapshot()),
		"total_alerts":   counts.Total,
		"open_alerts":    counts.Open,
	})
}

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := s.alerts.List(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(list),
		"alerts": list,
	})
}

// handleAlertSub dispatches /api/alerts/{id}, /api/alerts/{id}/acknowledge,
// /api/alerts/{id}/resolve, /api/alerts/{id}/notes and /api/alerts/export.
func (s *Server) handleAlertSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/alerts/"), "/")
	if rest == "" {
		s.handleAlertList(w, r)
		return
	}
	if rest == "export" {
		s.handleAlertExport(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		alert, err := s.alerts.Get(id)
		if err != nil {
			writeAlertError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	case "acknowledge":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.alerts.Acknowledge(id, r.URL.Query().Get("analyst")); err != nil {
			writeAlertError(w, err)
			return
		}
		s.writeAlertState(w, id)
	case "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.alerts.Resolve(id, r.URL.Query().Get("analyst")); err != nil {
			writeAlertError(w, err)
			return
		}
		s.writeAlertState(w, id)
	case "notes":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body struct {
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.alerts.AddNote(id, body.Notes); err != nil {
			writeAlertError(w, err)
			return
		}
		s.writeAlertState(w, id)
	default:
		writeError(w, http.StatusNotFound, "unknown alert action")
	}
}

func (s *Server) writeAlertState(w http.ResponseWriter, id string) {
	alert, err := s.alerts.Get(id)
	if err != nil {
		writeAlertError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAlertExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list := s.alerts.List(filter)
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "json":
		w.Header().Set("Content-Disposition", `attachment; filename="alerts.json"`)
		writeJSON(w, http.StatusOK, list)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{
			"alert_id", "rule_id", "rule_name", "severity", "state",
			"triggered_at", "source_ip", "username", "country_code",
			"count", "description", "acknowledged_by", "resolved_by", "notes",
		})
		for _, a := range list {
			_ = cw.Write([]string{
				a.ID, a.RuleID, a.RuleName, string(a.Severity), string(a.State),
				a.TriggeredAt.Format(time.RFC3339), a.SourceIP, a.Username, a.CountryCode,
				strconv.Itoa(a.Count), a.Description, a.AcknowledgedBy, a.ResolvedBy, a.Notes,
			})
		}
		cw.Flush()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	counts := s.alerts.Counts()
	recent := s.alerts.List(alerts.Filter{Limit: 10})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_alerts":       counts.Total,
		"open_alerts":        counts.Open,
		"alerts_by_severity": counts.BySeverity,
		"active_rules":       len(s.registry.Snapshot()),
		"recent_alerts":      recent,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": s.registry.Snapshot(),
	})
}

// handleRulesReload re-reads the config file and swaps the active rule set.
// A validation failure leaves the running set untouched.
func (s *Server) handleRulesReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	cfg, err := s.cfgs.Reload()
	if err != nil {
		writeError(w, http.StatusBadRequest, "reload config: "+err.Error())
		return
	}
	if err := s.registry.Reload(rules.FromConfig(cfg.Rules)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.engine != nil {
		s.engine.SyncRules()
		s.engine.UpdateConfig(cfg)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "reloaded",
		"active_rules": len(s.registry.Snapshot()),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func parseFilter(r *http.Request) (alerts.Filter, error) {
	q := r.URL.Query()
	var f alerts.Filter
	if v := q.Get("severity"); v != "" {
		sev, ok := model.ParseSeverity(v)
		if !ok {
			return f, fmt.Errorf("unknown severity %q", v)
		}
		f.Severity = sev
	}
	f.RuleName = q.Get("rule_name")
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid resolved value %q", v)
		}
		f.Resolved = &resolved
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid since value %q", v)
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid until value %q", v)
		}
		f.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit value %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeAlertError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
