// Package rules holds the active detection rule set. The set is swapped
// atomically as a whole: an evaluation pass always sees one consistent
// snapshot, and a failed reload leaves the previous set untouched.
package rules

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

type Registry struct {
	logger *slog.Logger
	active atomic.Value
}

func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}
	r.active.Store([]model.Rule{})
	return r
}

// Snapshot returns the currently active (enabled) rules. Callers must not
// mutate the returned slice.
func (r *Registry) Snapshot() []model.Rule {
	if v := r.active.Load(); v != nil {
		return v.([]model.Rule)
	}
	return nil
}

// Reload validates every rule and atomically replaces the active set with
// the enabled subset. Any validation failure aborts the whole reload.
func (r *Registry) Reload(ruleSet []model.Rule) error {
	seen := make(map[string]bool, len(ruleSet))
	enabled := make([]model.Rule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		if err := Validate(rule); err != nil {
			return err
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", model.ErrInvalidRule, rule.ID)
		}
		seen[rule.ID] = true
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	r.active.Store(enabled)
	if r.logger != nil {
		r.logger.Info("rule set reloaded", "total", len(ruleSet), "enabled", len(enabled))
	}
	return nil
}

// ActiveIDs returns the set of enabled rule ids, used to prune stale
// aggregation state after a reload.
func (r *Registry) ActiveIDs() map[string]bool {
	snapshot := r.Snapshot()
	ids := make(map[string]bool, len(snapshot))
	for _, rule := range snapshot {
		ids[rule.ID] = true
	}
	return ids
}

func Validate(rule model.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: missing id", model.ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule %q missing name", model.ErrInvalidRule, rule.ID)
	}
	if rule.Threshold <= 0 {
		return fmt.Errorf("%w: rule %q threshold must be positive", model.ErrInvalidRule, rule.ID)
	}
	if rule.Window <= 0 {
		return fmt.Errorf("%w: rule %q window must be positive", model.ErrInvalidRule, rule.ID)
	}
	if rule.Cooldown <= 0 {
		return fmt.Errorf("%w: rule %q cooldown must be positive", model.ErrInvalidRule, rule.ID)
	}
	if len(rule.GroupBy) == 0 {
		return fmt.Errorf("%w: rule %q group_by must not be empty", model.ErrInvalidRule, rule.ID)
	}
	for _, field := range rule.GroupBy {
		switch field {
		case model.FieldSourceIP, model.FieldUsername, model.FieldCountryCode:
		default:
			return fmt.Errorf("%w: rule %q unknown group_by field %q", model.ErrInvalidRule, rule.ID, field)
		}
	}
	if _, ok := model.ParseSeverity(string(rule.Severity)); !ok {
		return fmt.Errorf("%w: rule %q unknown severity %q", model.ErrInvalidRule, rule.ID, rule.Severity)
	}
	return nil
}

// FromConfig converts on-disk rule definitions to domain rules.
func FromConfig(cfgs []config.RuleConfig) []model.Rule {
	out := make([]model.Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		sev, _ := model.ParseSeverity(rc.Severity)
		out = append(out, model.Rule{
			ID:          rc.ID,
			Name:        rc.Name,
			Enabled:     rc.Enabled,
			EventType:   rc.EventType,
			Status:      rc.Status,
			GroupBy:     rc.GroupBy,
			Threshold:   rc.Threshold,
			Window:      rc.Window.Std(),
			Cooldown:    rc.Cooldown.Std(),
			Severity:    sev,
			Description: rc.Description,
		})
	}
	return out
}
