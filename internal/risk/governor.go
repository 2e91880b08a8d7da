package risk

import (
	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/observ"
)

// Governor maintains the account-level protective state machine. Evaluate is
// called exactly once per cycle by the single writer; everything it needs is
// passed in, so the same inputs always produce the same state.
type Governor struct {
	cfg config.Risk
}

func NewGovernor(cfg config.Risk) *Governor {
	return &Governor{cfg: cfg}
}

// Evaluate recomputes protective state from the previous state and this
// cycle's observations. It never resets protections except by the explicit
// recovery rules.
func (g *Governor) Evaluate(prev State, in Inputs) State {
	s := prev.Copy()
	dayRolled := in.TradingDay != s.TradingDay && s.TradingDay != ""

	if dayRolled {
		// Daily win/loss tracking for the consecutive-losing-days trigger.
		if s.LastDayValue.IsPositive() && in.AccountValue.LessThan(s.LastDayValue) {
			s.ConsecutiveLossDays++
		} else {
			s.ConsecutiveLossDays = 0
		}
		s.LastDayValue = in.AccountValue
	}
	if s.TradingDay == "" {
		s.LastDayValue = in.AccountValue
	}
	s.TradingDay = in.TradingDay

	if wk := isoWeekKey(in.TradingDay); wk != s.WeekKey {
		s.WeekKey = wk
		s.WeekStartValue = in.AccountValue
	}
	if in.AccountValue.GreaterThan(s.PeakAccountValue) {
		s.PeakAccountValue = in.AccountValue
	}

	g.evalCircuitBreaker(&s, in, dayRolled)
	g.evalBlackSwan(&s, in, dayRolled)

	// Correlation crisis: independent modifier. The >0.90 escalation is
	// covered by the black swan trigger; here we handle the 0.80 band.
	s.CorrelationLevel = in.Market.SectorCorrelation
	corrCap := 1.0
	s.BlockedSectors = nil
	if s.CorrelationLevel > g.cfg.CorrelationThreshold {
		corrCap = 0.5
		for _, sec := range in.Market.TopCorrelatedSectors {
			if sec != "" {
				s.BlockedSectors = append(s.BlockedSectors, sec)
			}
		}
	}

	streakCap := g.winStreakCap(s.ConsecutiveWins)

	// The effective multiplier is always the minimum of all active caps.
	caps := []struct {
		label string
		cap   float64
	}{
		{ProtectionCircuitBreaker, breakerCap(s.CircuitBreaker)},
		{ProtectionBlackSwan, blackSwanCap(s.BlackSwan)},
		{ProtectionCorrelationCrisis, corrCap},
		{ProtectionWinStreak, streakCap},
	}
	s.SizeMultiplier = 1.0
	s.ActiveProtection = ProtectionNone
	for _, c := range caps {
		if c.cap < s.SizeMultiplier {
			s.SizeMultiplier = c.cap
			s.ActiveProtection = c.label
		}
	}
	if s.SizeMultiplier >= 1.0 {
		s.ActiveProtection = ProtectionNone
	}

	s.SectorCap = g.sectorCap(in.Market.VIXPercentile, s.CorrelationLevel > g.cfg.CorrelationThreshold)

	if s.BlackSwan.Active {
		s.MinCashPct = g.cfg.BlackSwan.MinCashPct
	} else {
		s.MinCashPct = 0
	}
	if s.BlackSwan.Active && s.BlackSwan.Stage == 0 {
		s.ForceCloseDTE = g.cfg.BlackSwan.ForceCloseDTE
	} else {
		s.ForceCloseDTE = 0
	}

	observ.SetGauge("risk_size_multiplier", s.SizeMultiplier, nil)
	observ.SetGauge("risk_sector_cap", s.SectorCap, nil)
	observ.SetGauge("risk_consecutive_wins", float64(s.ConsecutiveWins), nil)
	observ.SetGauge("risk_correlation_level", s.CorrelationLevel, nil)
	return s
}

// RecordTradeResult updates the win streak. Any loss resets the streak.
// Callers serialize through the cycle writer.
func (g *Governor) RecordTradeResult(s State, profitable bool) State {
	out := s.Copy()
	if profitable {
		out.ConsecutiveWins++
		if out.ConsecutiveWins >= g.cfg.WinStreak.CautionAt {
			observ.Log("win_streak_caution", map[string]any{"consecutive_wins": out.ConsecutiveWins})
		}
	} else {
		out.ConsecutiveWins = 0
	}
	return out
}

func (g *Governor) winStreakCap(wins int) float64 {
	switch {
	case wins >= g.cfg.WinStreak.MaxAt:
		return g.cfg.WinStreak.MaxCap
	case wins >= g.cfg.WinStreak.CautionAt:
		return g.cfg.WinStreak.CautionCap
	default:
		return 1.0
	}
}

// sectorCap maps VIX percentile to the per-sector allocation cap, tightened
// a further five points during a correlation crisis.
func (g *Governor) sectorCap(vixPercentile float64, correlationCrisis bool) float64 {
	cap := 0.25
	switch {
	case vixPercentile > 90:
		cap = 0.15
	case vixPercentile >= 75:
		cap = 0.20
	}
	if correlationCrisis {
		cap -= 0.05
		if cap < 0.10 {
			cap = 0.10
		}
	}
	return cap
}
