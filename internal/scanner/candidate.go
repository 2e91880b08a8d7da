package scanner

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidCandidate marks chain rows that cannot be scored at all
// (non-positive premium, inverted market). Invalid rows are dropped and the
// scan continues; every other failure keeps the candidate with an issue.
var ErrInvalidCandidate = errors.New("invalid candidate")

// Candidate is one scored put-entry opportunity. Candidates are ephemeral:
// recomputed each cycle, never persisted.
type Candidate struct {
	Symbol           string          `json:"symbol"`
	Strike           decimal.Decimal `json:"strike"`
	Expiry           time.Time       `json:"expiry"`
	DTE              int             `json:"dte"`
	Premium          decimal.Decimal `json:"premium"`
	IVRank           float64         `json:"iv_rank"`
	CurrentIV        float64         `json:"current_iv"`
	LiquidityScore   float64         `json:"liquidity_score"`
	Sector           string          `json:"sector"`
	AnnualizedReturn float64         `json:"annualized_return"`
	Score            float64         `json:"score"`
	MeetsCriteria    bool            `json:"meets_criteria"`
	Issues           []string        `json:"issues,omitempty"`
}

// FactorProvider supplies the valuation and momentum inputs to the weighted
// score. Both return values in [0,1]. The core never computes fundamentals;
// tests inject deterministic fakes.
type FactorProvider interface {
	ValuationScore(symbol string, strike decimal.Decimal, sector string) float64
	MomentumScore(sector string) float64
}

// NeutralFactors scores every candidate at the midpoint, for deployments
// without a fundamentals source.
type NeutralFactors struct{}

func (NeutralFactors) ValuationScore(string, decimal.Decimal, string) float64 { return 0.5 }
func (NeutralFactors) MomentumScore(string) float64                          { return 0.5 }

// SectorAllocation compares deployed capital per sector against its target.
// Percentages are fractions of deployed capital.
type SectorAllocation struct {
	Sector    string  `json:"sector"`
	ActualPct float64 `json:"actual_pct"`
	TargetPct float64 `json:"target_pct"`
}

// Gap is how far the sector runs under target, normalized to [0,1].
func (a SectorAllocation) Gap() float64 {
	if a.TargetPct <= 0 {
		return 0
	}
	g := (a.TargetPct - a.ActualPct) / a.TargetPct
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
