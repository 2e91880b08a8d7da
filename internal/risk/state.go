package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/feed"
)

// Protection labels name the currently binding protective condition.
const (
	ProtectionNone              = "none"
	ProtectionCircuitBreaker    = "circuit_breaker"
	ProtectionBlackSwan         = "black_swan"
	ProtectionCorrelationCrisis = "correlation_crisis"
	ProtectionWinStreak         = "win_streak"
)

// CircuitBreaker is the account-level halt on new entries after drawdown.
type CircuitBreaker struct {
	Active              bool      `json:"active"`
	Reason              string    `json:"reason,omitempty"`
	ActivatedAt         time.Time `json:"activated_at,omitzero"`
	DaysSinceActivation int       `json:"days_since_activation"` // trading days
	RampStep            int       `json:"ramp_step"`             // 0 = normal, 1..3 = re-entry ramp
	DaysAtRampStep      int       `json:"days_at_ramp_step"`
}

// BlackSwan is the staged extreme-risk response. Stage 0 is the reset point
// entered on activation; each clean window advances one stage and raises the
// sizing ceiling until stage 4 deactivates the protocol.
type BlackSwan struct {
	Active      bool      `json:"active"`
	Stage       int       `json:"stage"` // 0..4
	Reason      string    `json:"reason,omitempty"`
	TriggeredAt time.Time `json:"triggered_at,omitzero"`
	CleanDays   int       `json:"clean_days"` // trading days without a re-trigger
}

// State is the process-wide protective state. It has a single writer (the
// cycle evaluation) and is recomputed every cycle from account metrics and
// market aggregates; readers get immutable copies.
type State struct {
	TradingDay string `json:"trading_day"` // exchange-local YYYY-MM-DD

	CircuitBreaker   CircuitBreaker `json:"circuit_breaker"`
	BlackSwan        BlackSwan      `json:"black_swan"`
	CorrelationLevel float64        `json:"correlation_level"`
	BlockedSectors   []string       `json:"blocked_sectors,omitempty"`
	ConsecutiveWins  int            `json:"consecutive_wins"`

	SizeMultiplier   float64 `json:"size_multiplier"` // min of all active caps, [0,1]
	SectorCap        float64 `json:"sector_cap"`      // fraction of deployed capital per sector
	MinCashPct       float64 `json:"min_cash_pct"`
	ForceCloseDTE    int     `json:"force_close_dte"` // >0 while black swan force-close applies
	ActiveProtection string  `json:"active_protection"`

	PeakAccountValue    decimal.Decimal `json:"peak_account_value"`
	WeekKey             string          `json:"week_key"` // ISO year-week of WeekStartValue
	WeekStartValue      decimal.Decimal `json:"week_start_value"`
	LastDayValue        decimal.Decimal `json:"last_day_value"`
	ConsecutiveLossDays int             `json:"consecutive_loss_days"`
}

// Inputs are the per-cycle observations the governor evaluates against.
type Inputs struct {
	Now          time.Time
	TradingDay   string // exchange-local YYYY-MM-DD
	AccountValue decimal.Decimal
	Market       feed.MarketContext
}

// NewState seeds protective state for a fresh account.
func NewState(accountValue decimal.Decimal, tradingDay string) State {
	return State{
		TradingDay:       tradingDay,
		SizeMultiplier:   1.0,
		SectorCap:        0.25,
		ActiveProtection: ProtectionNone,
		PeakAccountValue: accountValue,
		WeekStartValue:   accountValue,
		LastDayValue:     accountValue,
	}
}

// Copy returns a deep copy safe to publish to readers.
func (s State) Copy() State {
	out := s
	if s.BlockedSectors != nil {
		out.BlockedSectors = append([]string(nil), s.BlockedSectors...)
	}
	return out
}
