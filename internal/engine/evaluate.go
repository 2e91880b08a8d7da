package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

// Rule identifiers. They key deterministic decision IDs, so a rule firing
// for the same symbol on the same trading day always yields the same ID.
const (
	ruleForceClose  = "force_close"
	ruleDefensive   = "defensive_roll"
	ruleTimeRoll    = "time_roll"
	ruleEfficiency  = "efficiency_roll"
	ruleProfitClose = "profit_close"
	ruleCoveredCall = "covered_call"
	ruleEnter       = "enter"
)

func decisionID(day, rule, symbol, qualifier string) string {
	if qualifier == "" {
		return fmt.Sprintf("%s:%s:%s", day, rule, symbol)
	}
	return fmt.Sprintf("%s:%s:%s:%s", day, rule, symbol, qualifier)
}

// legDecision runs the roll/close matrix against one open leg. Rules are
// ordered; the first match wins and Hold produces nothing.
func legDecision(cfg config.Engine, rs risk.State, day string, at time.Time, symbol string, leg wheel.Leg, isCall bool) *decisions.Decision {
	strike := leg.Strike.StringFixed(2)
	absDelta := math.Abs(leg.Delta)

	if rs.ForceCloseDTE > 0 && leg.DTE < rs.ForceCloseDTE {
		return &decisions.Decision{
			ID:        decisionID(day, ruleForceClose, symbol, strike),
			Timestamp: at,
			Symbol:    symbol,
			Action:    decisions.ActionClose,
			Priority:  decisions.PriorityCritical,
			Rationale: fmt.Sprintf("protection force-close: %d DTE below %d day floor", leg.DTE, rs.ForceCloseDTE),
			Urgency:   urgency(absDelta, leg.DTE),
		}
	}
	if leg.HasDelta && absDelta > cfg.RollDeltaThreshold {
		return &decisions.Decision{
			ID:        decisionID(day, ruleDefensive, symbol, strike),
			Timestamp: at,
			Symbol:    symbol,
			Action:    decisions.ActionRoll,
			Priority:  decisions.PriorityCritical,
			Rationale: fmt.Sprintf("defensive roll: delta %.2f beyond %.2f", leg.Delta, cfg.RollDeltaThreshold),
			Urgency:   urgency(absDelta, leg.DTE),
		}
	}
	if leg.DTE <= cfg.RollDTE {
		return &decisions.Decision{
			ID:        decisionID(day, ruleTimeRoll, symbol, strike),
			Timestamp: at,
			Symbol:    symbol,
			Action:    decisions.ActionRoll,
			Priority:  decisions.PriorityImportant,
			Rationale: fmt.Sprintf("time roll: %d DTE at or under %d day window", leg.DTE, cfg.RollDTE),
			Urgency:   urgency(absDelta, leg.DTE),
		}
	}
	if leg.ProfitPct >= cfg.EfficiencyProfit && leg.DTE > cfg.EfficiencyMinDTE {
		return &decisions.Decision{
			ID:        decisionID(day, ruleEfficiency, symbol, strike),
			Timestamp: at,
			Symbol:    symbol,
			Action:    decisions.ActionRoll,
			Priority:  decisions.PriorityImportant,
			Rationale: fmt.Sprintf("efficiency roll: %.0f%% of max profit captured with %d DTE remaining", leg.ProfitPct*100, leg.DTE),
			Urgency:   urgency(absDelta, leg.DTE),
		}
	}
	if isCall && leg.ProfitPct >= cfg.CallCloseProfitLo && leg.ProfitPct <= cfg.CallCloseProfitHi {
		return &decisions.Decision{
			ID:        decisionID(day, ruleProfitClose, symbol, strike),
			Timestamp: at,
			Symbol:    symbol,
			Action:    decisions.ActionClose,
			Priority:  decisions.PriorityImportant,
			Rationale: fmt.Sprintf("profit close: covered call at %.0f%% of max profit", leg.ProfitPct*100),
			Urgency:   urgency(absDelta, leg.DTE),
		}
	}
	return nil
}

// urgency orders decisions within a priority tier: higher delta exposure
// first, then nearer expiry.
func urgency(absDelta float64, dte int) float64 {
	return absDelta*1000 + float64(1000-dte)
}

// evaluate is the pure decision pass. It reads snapshot-derived state only,
// so re-running it over the same inputs yields an identical decision list.
func evaluate(
	cfg config.Engine,
	day string,
	at time.Time,
	positions []wheel.WheelPosition,
	rs risk.State,
	candidates []scanner.Candidate,
) []decisions.Decision {
	var out []decisions.Decision

	for _, pos := range positions {
		for _, leg := range pos.Puts {
			if d := legDecision(cfg, rs, day, at, pos.Symbol, leg, false); d != nil {
				out = append(out, *d)
			}
		}
		for _, leg := range pos.Calls {
			if d := legDecision(cfg, rs, day, at, pos.Symbol, leg, true); d != nil {
				out = append(out, *d)
			}
		}
		if pos.State == wheel.StateAssigned && pos.SharesOwned >= 100 && !pos.HasActiveCalls() {
			out = append(out, decisions.Decision{
				ID:        decisionID(day, ruleCoveredCall, pos.Symbol, ""),
				Timestamp: at,
				Symbol:    pos.Symbol,
				Action:    decisions.ActionEnter,
				Priority:  decisions.PriorityImportant,
				Rationale: fmt.Sprintf("sell covered call against %d uncovered shares", pos.SharesOwned),
				Urgency:   urgency(0, 0),
			})
		}
	}

	// Entries are suppressed outright while sizing is zeroed by a
	// protection state. One entry per symbol, best strike first.
	if rs.SizeMultiplier > 0 {
		seen := map[string]bool{}
		for _, c := range candidates {
			if !c.MeetsCriteria || seen[c.Symbol] {
				continue
			}
			seen[c.Symbol] = true
			out = append(out, decisions.Decision{
				ID:        decisionID(day, ruleEnter, c.Symbol, c.Strike.StringFixed(2)),
				Timestamp: at,
				Symbol:    c.Symbol,
				Action:    decisions.ActionEnter,
				Priority:  decisions.PriorityInfo,
				Rationale: fmt.Sprintf("sell %s %s put, %d DTE, %.1f%% annualized", c.Symbol, c.Strike.StringFixed(2), c.DTE, c.AnnualizedReturn*100),
				Urgency:   c.Score,
			})
		}
	}

	rankDecisions(out)
	return out
}

// rankDecisions sorts by priority tier, then urgency, with symbol and ID
// as deterministic tie-breakers.
func rankDecisions(list []decisions.Decision) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority.Less(list[j].Priority)
		}
		if list[i].Urgency != list[j].Urgency {
			return list[i].Urgency > list[j].Urgency
		}
		if list[i].Symbol != list[j].Symbol {
			return list[i].Symbol < list[j].Symbol
		}
		return list[i].ID < list[j].ID
	})
}

// onlyCritical filters a ranked list down to its critical tier, preserving
// order. Used while running on a cached snapshot inside the staleness SLA.
func onlyCritical(list []decisions.Decision) []decisions.Decision {
	var out []decisions.Decision
	for _, d := range list {
		if d.Priority == decisions.PriorityCritical {
			out = append(out, d)
		}
	}
	return out
}
