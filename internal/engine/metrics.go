package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

// Market regime labels surfaced in portfolio metrics.
const (
	RegimeBull    = "BULL"
	RegimeNeutral = "NEUTRAL"
	RegimeBear    = "BEAR"
)

// PortfolioMetrics is the account-level read model. Money values are
// fixed-point; percentages are fractions.
type PortfolioMetrics struct {
	NetLiquidation  decimal.Decimal `json:"net_liquidation"`
	AvailableFunds  decimal.Decimal `json:"available_funds"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	DeployedCapital decimal.Decimal `json:"deployed_capital"`
	CashPct         float64         `json:"cash_pct"`
	PeakValue       decimal.Decimal `json:"peak_value"`
	DrawdownPct     float64         `json:"drawdown_pct"`
	Regime          string          `json:"regime"`
	OpenPositions   int             `json:"open_positions"`
	Stale           bool            `json:"stale"`
	AsOf            time.Time       `json:"as_of"`
}

// deployedCapital values a wheel position at secured-put collateral plus
// share cost basis.
func deployedCapital(pos wheel.WheelPosition) decimal.Decimal {
	total := decimal.Zero
	hundred := decimal.NewFromInt(100)
	for _, leg := range pos.Puts {
		qty := decimal.NewFromInt(int64(absInt(leg.Quantity)))
		total = total.Add(leg.Strike.Mul(hundred).Mul(qty))
	}
	if pos.SharesOwned > 0 {
		total = total.Add(pos.CostBasis.Mul(decimal.NewFromInt(int64(pos.SharesOwned))))
	}
	return total
}

// sectorAllocations computes actual vs target deployment per sector as
// fractions of net liquidation.
func sectorAllocations(
	positions []wheel.WheelPosition,
	nav decimal.Decimal,
	rd refdata.Provider,
	targets map[string]float64,
) map[string]scanner.SectorAllocation {
	out := map[string]scanner.SectorAllocation{}
	for sector, target := range targets {
		out[sector] = scanner.SectorAllocation{Sector: sector, TargetPct: target}
	}
	if !nav.IsPositive() {
		return out
	}
	for _, pos := range positions {
		if pos.State == wheel.StateClosed {
			continue
		}
		sector := rd.SectorOf(pos.Symbol)
		a := out[sector]
		a.Sector = sector
		pct, _ := deployedCapital(pos).Div(nav).Float64()
		a.ActualPct += pct
		out[sector] = a
	}
	return out
}

// allocationList flattens the map in stable sector order for publishing.
func allocationList(m map[string]scanner.SectorAllocation) []scanner.SectorAllocation {
	out := make([]scanner.SectorAllocation, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out
}

// marketRegime derives a coarse regime label from the market aggregates.
func marketRegime(m feed.MarketContext, correlationCrisis bool) string {
	switch {
	case m.VIXPercentile > 75 || correlationCrisis:
		return RegimeBear
	case m.VIXPercentile < 40 && m.BreadthPositiveDays >= 3:
		return RegimeBull
	default:
		return RegimeNeutral
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
