package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/alerts"
	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/observ"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

// Published is the read model swapped in whole at the end of each cycle.
// Readers always see one coherent cycle, never a half-updated view.
type Published struct {
	At          time.Time
	TradingDay  string
	Stale       bool
	Suppressed  bool
	Risk        risk.State
	Positions   []wheel.WheelPosition
	Candidates  []scanner.Candidate
	Decisions   []decisions.Decision
	Allocations []scanner.SectorAllocation
	Events      []wheel.LifecycleEvent
	Metrics     PortfolioMetrics
}

// Deps carries the engine's collaborators. Everything is injected so tests
// can run cycles against a sim feed and a temp-dir ledger.
type Deps struct {
	Gatherer *feed.Gatherer
	Wheels   *wheel.Ledger
	Governor *risk.Governor
	Scorer   *scanner.Scorer
	Ledger   *decisions.Ledger
	RefData  refdata.Provider
	Notifier alerts.Notifier
	Now      func() time.Time

	// InitialRisk seeds protective state from disk. When Seeded is false
	// the first cycle initializes state from the live account value.
	InitialRisk risk.State
	Seeded      bool
}

type Engine struct {
	cfg *config.Root
	d   Deps
	now func() time.Time

	mu           sync.RWMutex
	riskState    risk.State
	seeded       bool
	lastSnap     *feed.Snapshot
	staleAlerted bool
	published    Published
}

func New(cfg *config.Root, d Deps) *Engine {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	if d.Notifier == nil {
		d.Notifier = alerts.Console{}
	}
	return &Engine{
		cfg:       cfg,
		d:         d,
		now:       now,
		riskState: d.InitialRisk,
		seeded:    d.Seeded,
	}
}

// RunCycle gathers a snapshot and runs one full evaluation. It is the only
// writer of protective and published state; callers serialize invocations.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()
	snap, err := e.d.Gatherer.Gather(ctx, e.cfg.Watchlist)
	if err != nil {
		return e.runDegraded(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSnap = snap
	e.staleAlerted = false

	pub, err := e.evaluateCycle(snap, false)
	if err != nil {
		return err
	}
	e.published = pub
	observ.ObserveDuration("engine_cycle_seconds", e.now().Sub(start), nil)
	e.notifyCritical(pub.Decisions)
	return nil
}

// runDegraded applies the staleness policy after a failed gather: within the
// SLA the cached snapshot still drives critical-only decisions, beyond it all
// decisions are suppressed behind a single manual-attention alert.
func (e *Engine) runDegraded(gatherErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	observ.IncCounter("engine_degraded_cycles_total", nil)
	observ.LogError("cycle_gather_failed", gatherErr, nil)

	if e.lastSnap == nil {
		if !e.staleAlerted {
			e.staleAlerted = true
			e.alert(alerts.Alert{
				Priority:       string(decisions.PriorityCritical),
				Title:          "no market data",
				Message:        "feed unavailable with no cached snapshot",
				ActionRequired: "manual attention required",
				Timestamp:      e.now(),
			})
		}
		return fmt.Errorf("gather with no cached snapshot: %w", gatherErr)
	}

	cached := *e.lastSnap
	cached.Stale = true
	age := cached.Age(e.now())
	sla := time.Duration(e.cfg.Feed.StalenessSLASeconds) * time.Second

	if age <= sla {
		pub, err := e.evaluateCycle(&cached, true)
		if err != nil {
			return err
		}
		pub.Decisions = onlyCritical(pub.Decisions)
		e.published = pub
		e.notifyCritical(pub.Decisions)
		return nil
	}

	// Past the SLA the cached view is advisory garbage. Keep positions
	// visible, surface nothing actionable.
	e.published.Stale = true
	e.published.Suppressed = true
	e.published.Metrics.Stale = true
	e.published.Decisions = nil
	e.published.Candidates = nil
	if !e.staleAlerted {
		e.staleAlerted = true
		e.alert(alerts.Alert{
			Priority:       string(decisions.PriorityCritical),
			Title:          "stale market data",
			Message:        fmt.Sprintf("snapshot age %s exceeds %s SLA, decisions suppressed", age.Round(time.Second), sla),
			ActionRequired: "manual attention required",
			Timestamp:      e.now(),
		})
	}
	return fmt.Errorf("%w: snapshot age %s exceeds %s SLA (gather: %v)", feed.ErrDataStale, age.Round(time.Second), sla, gatherErr)
}

// evaluateCycle runs the derive, govern, scan, decide pipeline over one
// snapshot. Caller holds e.mu.
func (e *Engine) evaluateCycle(snap *feed.Snapshot, stale bool) (Published, error) {
	day := risk.TradingDay(snap.TakenAt, e.cfg.Location)

	if !e.seeded {
		e.riskState = risk.NewState(snap.Account.NetLiquidation, day)
		e.seeded = true
	}
	rs := e.d.Governor.Evaluate(e.riskState, risk.Inputs{
		Now:          snap.TakenAt,
		TradingDay:   day,
		AccountValue: snap.Account.NetLiquidation,
		Market:       snap.Market,
	})
	e.riskState = rs
	e.persistRisk(rs)

	positions, events, err := e.d.Wheels.Derive(snap)
	if err != nil {
		return Published{}, fmt.Errorf("derive wheel positions: %w", err)
	}
	for _, ev := range events {
		observ.Log("wheel_transition", map[string]any{
			"symbol": ev.Symbol, "type": string(ev.Type),
			"from": string(ev.From), "to": string(ev.To),
		})
	}

	allocMap := sectorAllocations(positions, snap.Account.NetLiquidation, e.d.RefData, e.cfg.SectorTargets)
	cands := e.d.Scorer.Scan(snap, e.cfg.Watchlist, rs, positions, allocMap)
	decs := evaluate(e.cfg.Engine, day, snap.TakenAt, positions, rs, cands)

	open := 0
	for _, p := range positions {
		if p.State != wheel.StateClosed {
			open++
		}
	}
	deployed := decimal.Zero
	for _, p := range positions {
		if p.State != wheel.StateClosed {
			deployed = deployed.Add(deployedCapital(p))
		}
	}
	cashPct := 0.0
	if snap.Account.NetLiquidation.IsPositive() {
		cashPct, _ = snap.Account.AvailableFunds.Div(snap.Account.NetLiquidation).Float64()
	}
	ddPct := 0.0
	if rs.PeakAccountValue.IsPositive() {
		ddPct, _ = rs.PeakAccountValue.Sub(snap.Account.NetLiquidation).Div(rs.PeakAccountValue).Float64()
		if ddPct < 0 {
			ddPct = 0
		}
	}

	observ.SetGauge("engine_open_positions", float64(open), nil)
	observ.SetGauge("engine_decisions_surfaced", float64(len(decs)), nil)
	observ.Log("cycle_complete", map[string]any{
		"trading_day": day, "stale": stale,
		"positions": len(positions), "candidates": len(cands), "decisions": len(decs),
	})

	return Published{
		At:          snap.TakenAt,
		TradingDay:  day,
		Stale:       stale,
		Risk:        rs.Copy(),
		Positions:   positions,
		Candidates:  cands,
		Decisions:   decs,
		Allocations: allocationList(allocMap),
		Events:      events,
		Metrics: PortfolioMetrics{
			NetLiquidation:  snap.Account.NetLiquidation,
			AvailableFunds:  snap.Account.AvailableFunds,
			UnrealizedPnL:   snap.Account.UnrealizedPnL,
			DeployedCapital: deployed,
			CashPct:         cashPct,
			PeakValue:       rs.PeakAccountValue,
			DrawdownPct:     ddPct,
			Regime:          marketRegime(snap.Market, rs.CorrelationLevel > e.cfg.Risk.CorrelationThreshold),
			OpenPositions:   open,
			Stale:           stale,
			AsOf:            snap.TakenAt,
		},
	}, nil
}

func (e *Engine) persistRisk(rs risk.State) {
	if e.cfg.Risk.StatePath == "" {
		return
	}
	if err := risk.SaveState(e.cfg.Risk.StatePath, rs); err != nil {
		observ.LogError("risk_state_persist_failed", err, nil)
	}
}

func (e *Engine) notifyCritical(decs []decisions.Decision) {
	for _, d := range decs {
		if d.Priority != decisions.PriorityCritical {
			continue
		}
		e.alert(alerts.Alert{
			Priority:       string(d.Priority),
			Title:          fmt.Sprintf("%s %s", d.Action, d.Symbol),
			Message:        d.Rationale,
			ActionRequired: "review and execute manually",
			Timestamp:      d.Timestamp,
		})
	}
}

func (e *Engine) alert(a alerts.Alert) {
	if err := e.d.Notifier.Send(a); err != nil {
		observ.LogError("alert_send_failed", err, map[string]any{"title": a.Title})
	}
}

// RecordDecisionExecuted marks a surfaced decision as executed and appends it
// to the decision ledger, subject to the daily quota.
func (e *Engine) RecordDecisionExecuted(decisionID, outcome string) (decisions.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var found *decisions.Decision
	for i := range e.published.Decisions {
		if e.published.Decisions[i].ID == decisionID {
			found = &e.published.Decisions[i]
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("decision %q not in current cycle", decisionID)
	}
	d := *found
	d.Executed = true
	d.Outcome = outcome
	res, err := e.d.Ledger.Record(d)
	if err != nil {
		return res, err
	}
	if res == decisions.ResultAccepted {
		found.Executed = true
		found.Outcome = outcome
	}
	return res, nil
}

// RecordTradeResult feeds a closed-trade outcome into win-streak tracking.
func (e *Engine) RecordTradeResult(profitable bool) risk.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.riskState = e.d.Governor.RecordTradeResult(e.riskState, profitable)
	e.persistRisk(e.riskState)
	e.published.Risk = e.riskState.Copy()
	return e.riskState.Copy()
}

func (e *Engine) GetPortfolioMetrics() PortfolioMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published.Metrics
}

func (e *Engine) GetWheelPositions() []wheel.WheelPosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]wheel.WheelPosition(nil), e.published.Positions...)
}

// GetOpportunities returns the current candidate set, restricted to passing
// candidates unless all is set.
func (e *Engine) GetOpportunities(all bool) []scanner.Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if all {
		return append([]scanner.Candidate(nil), e.published.Candidates...)
	}
	var out []scanner.Candidate
	for _, c := range e.published.Candidates {
		if c.MeetsCriteria {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) GetRiskState() risk.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published.Risk.Copy()
}

// GetDecisions returns the ranked advisory list from the latest cycle.
func (e *Engine) GetDecisions() []decisions.Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]decisions.Decision(nil), e.published.Decisions...)
}

func (e *Engine) GetDecisionsToday() []decisions.Record {
	return e.d.Ledger.Today()
}

func (e *Engine) GetQuotaRemaining() int {
	return e.d.Ledger.RemainingToday()
}

// GetDecisionBreakdown summarizes today's executions by action and priority.
func (e *Engine) GetDecisionBreakdown() map[string]map[string]int {
	return e.d.Ledger.Breakdown()
}

func (e *Engine) GetSectorAllocations() []scanner.SectorAllocation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]scanner.SectorAllocation(nil), e.published.Allocations...)
}

func (e *Engine) Published() Published {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pub := e.published
	pub.Risk = pub.Risk.Copy()
	pub.Positions = append([]wheel.WheelPosition(nil), pub.Positions...)
	pub.Candidates = append([]scanner.Candidate(nil), pub.Candidates...)
	pub.Decisions = append([]decisions.Decision(nil), pub.Decisions...)
	pub.Allocations = append([]scanner.SectorAllocation(nil), pub.Allocations...)
	pub.Events = append([]wheel.LifecycleEvent(nil), pub.Events...)
	return pub
}
