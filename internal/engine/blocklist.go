package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinelwatch/internal/config"
	"sentinelwatch/internal/model"
)

// blocklistRuleID tags alerts produced by the static IP blocklist check,
// which runs ahead of the threshold rules.
const blocklistRuleID = "blocklisted_ip"

type blockSet struct {
	enabled  bool
	ips      map[string]bool
	cooldown time.Duration
}

func buildBlockSet(cfg config.BlocklistConfig) *blockSet {
	b := &blockSet{
		enabled:  cfg.Enabled,
		ips:      make(map[string]bool, len(cfg.SourceIPs)),
		cooldown: cfg.Cooldown.Std(),
	}
	for _, ip := range cfg.SourceIPs {
		if ip != "" {
			b.ips[ip] = true
		}
	}
	return b
}

func (e *Engine) blockSet() *blockSet {
	if v := e.blocklist.Load(); v != nil {
		return v.(*blockSet)
	}
	return nil
}

// checkBlocklist fires a critical alert on any activity from a blocklisted
// source IP, with its own per-IP cooldown.
func (e *Engine) checkBlocklist(ev model.Event, ts time.Time) (model.Alert, bool) {
	b := e.blockSet()
	if b == nil || !b.enabled || ev.SourceIP == "" || !b.ips[ev.SourceIP] {
		return model.Alert{}, false
	}
	key := blocklistRuleID + "|" + ev.SourceIP
	if !e.guard.Admit(key, b.cooldown, ts) {
		return model.Alert{}, false
	}
	var ids []string
	if ev.ID != "" {
		ids = []string{ev.ID}
	}
	return model.Alert{
		ID:          uuid.New().String(),
		RuleID:      blocklistRuleID,
		RuleName:    "Blocklisted IP activity",
		Severity:    model.SeverityCritical,
		Description: fmt.Sprintf("Activity detected from blocklisted IP address %s", ev.SourceIP),
		TriggeredAt: ts,
		SourceIP:    ev.SourceIP,
		Username:    ev.Username,
		CountryCode: ev.CountryCode,
		EventIDs:    ids,
		Count:       1,
		DedupKey:    key,
		State:       model.AlertStateNew,
	}, true
}
