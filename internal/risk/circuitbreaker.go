package risk

import (
	"fmt"

	"github.com/wheelops/wheel-engine/internal/observ"
)

// breakerConditions reports which activating conditions currently hold.
func (g *Governor) breakerConditions(s *State, in Inputs) (bool, string) {
	if s.PeakAccountValue.IsPositive() {
		dd, _ := s.PeakAccountValue.Sub(in.AccountValue).Div(s.PeakAccountValue).Float64()
		if dd >= g.cfg.PeakDrawdownPct {
			return true, fmt.Sprintf("drawdown_from_peak %.1f%%", dd*100)
		}
	}
	if s.WeekStartValue.IsPositive() {
		dd, _ := s.WeekStartValue.Sub(in.AccountValue).Div(s.WeekStartValue).Float64()
		if dd >= g.cfg.WeeklyDrawdownPct {
			return true, fmt.Sprintf("weekly_drawdown %.1f%%", dd*100)
		}
	}
	if s.ConsecutiveLossDays >= g.cfg.ConsecutiveLossDays {
		return true, fmt.Sprintf("%d consecutive losing days", s.ConsecutiveLossDays)
	}
	return false, ""
}

// evalCircuitBreaker advances the breaker state machine for one cycle.
// dayRolled is true when the exchange-local trading day changed since the
// previous evaluation.
func (g *Governor) evalCircuitBreaker(s *State, in Inputs, dayRolled bool) {
	cb := &s.CircuitBreaker
	triggered, reason := g.breakerConditions(s, in)

	if cb.Active {
		if dayRolled {
			cb.DaysSinceActivation++
		}
		// Deactivation needs both the waiting period and clean conditions.
		if cb.DaysSinceActivation >= g.cfg.RecoveryTradingDays && !triggered {
			cb.Active = false
			cb.Reason = ""
			cb.RampStep = 1
			cb.DaysAtRampStep = 0
			observ.IncCounter("circuit_breaker_deactivations_total", nil)
			observ.Log("circuit_breaker_deactivated", map[string]any{
				"days_active": cb.DaysSinceActivation,
			})
		}
		return
	}

	if triggered {
		cb.Active = true
		cb.Reason = reason
		cb.ActivatedAt = in.Now
		cb.DaysSinceActivation = 0
		cb.RampStep = 0
		cb.DaysAtRampStep = 0
		observ.IncCounter("circuit_breaker_activations_total", nil)
		observ.Log("circuit_breaker_activated", map[string]any{"reason": reason})
		return
	}

	// Re-entry ramp: one step per configured number of trading days.
	if cb.RampStep > 0 && dayRolled {
		cb.DaysAtRampStep++
		if cb.DaysAtRampStep >= g.cfg.RampStepDays {
			cb.RampStep++
			cb.DaysAtRampStep = 0
			if cb.RampStep > 3 {
				cb.RampStep = 0 // ramp complete, full sizing restored
			}
		}
	}
}

// breakerCap is the sizing cap contributed by the circuit breaker.
func breakerCap(cb CircuitBreaker) float64 {
	switch {
	case cb.Active:
		return 0.0
	case cb.RampStep > 0:
		return 0.25 * float64(cb.RampStep)
	default:
		return 1.0
	}
}
