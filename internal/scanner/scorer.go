package scanner

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/observ"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

// Score weights. Premium yield dominates; the sector gap nudges entries
// toward under-allocated sectors.
const (
	weightYield     = 0.30
	weightIVRank    = 0.20
	weightLiquidity = 0.15
	weightValuation = 0.15
	weightMomentum  = 0.10
	weightSectorGap = 0.10
)

// Scorer generates and scores entry candidates for the watchlist. It is a
// pure consumer of the cycle snapshot plus the governor's sizing context;
// identical inputs produce an identical ranked candidate set.
type Scorer struct {
	cfg     config.Scanner
	wheel   config.Wheel
	refdata refdata.Provider
	factors FactorProvider
}

func NewScorer(cfg config.Scanner, wheelCfg config.Wheel, rd refdata.Provider, factors FactorProvider) *Scorer {
	if factors == nil {
		factors = NeutralFactors{}
	}
	return &Scorer{cfg: cfg, wheel: wheelCfg, refdata: rd, factors: factors}
}

// Scan produces the full candidate set sorted descending by score. Failing
// candidates are retained with MeetsCriteria=false and their issues; only
// structurally invalid chain rows are dropped. Quota and MeetsCriteria
// filtering belong to the decision engine, not here.
func (s *Scorer) Scan(
	snap *feed.Snapshot,
	watchlist []string,
	rs risk.State,
	positions []wheel.WheelPosition,
	allocations map[string]SectorAllocation,
) []Candidate {
	held := map[string]wheel.WheelPosition{}
	for _, p := range positions {
		held[p.Symbol] = p
	}

	var cands []Candidate
	for _, sym := range watchlist {
		quote, ok := snap.Quotes[sym]
		if !ok {
			continue
		}
		chain := snap.Chains[sym]
		vol := snap.Vol[sym]
		sector := s.refdata.SectorOf(sym)

		for _, oq := range chain {
			if err := validateChainRow(oq); err != nil {
				observ.IncCounter("scanner_invalid_candidates_total", map[string]string{"symbol": sym})
				continue
			}
			if !inStrikeBand(oq.Strike, quote.Last, s.cfg.Grid) {
				continue
			}
			c := s.buildCandidate(sym, sector, quote, oq, vol, rs, snap, held[sym], allocations[sector])
			cands = append(cands, c)
		}
	}

	s.scoreAll(cands, allocations)
	sortCandidates(cands)
	observ.SetGauge("scanner_candidates", float64(len(cands)), nil)
	return cands
}

func validateChainRow(oq feed.OptionQuote) error {
	if !oq.Premium.IsPositive() {
		return fmt.Errorf("%w: non-positive premium", ErrInvalidCandidate)
	}
	if oq.Ask.LessThan(oq.Bid) {
		return fmt.Errorf("%w: inverted bid/ask", ErrInvalidCandidate)
	}
	if oq.DTE <= 0 || !oq.Strike.IsPositive() {
		return fmt.Errorf("%w: missing strike or expiry", ErrInvalidCandidate)
	}
	return nil
}

func inStrikeBand(strike, spot decimal.Decimal, grid config.StrikeGrid) bool {
	if !spot.IsPositive() {
		return false
	}
	m, _ := strike.Div(spot).Float64()
	return m >= grid.Low && m <= grid.High
}

func (s *Scorer) buildCandidate(
	sym, sector string,
	quote feed.Quote,
	oq feed.OptionQuote,
	vol feed.VolMetrics,
	rs risk.State,
	snap *feed.Snapshot,
	pos wheel.WheelPosition,
	alloc SectorAllocation,
) Candidate {
	c := Candidate{
		Symbol:         sym,
		Strike:         oq.Strike,
		Expiry:         oq.Expiry,
		DTE:            oq.DTE,
		Premium:        oq.Premium,
		IVRank:         vol.IVRank,
		CurrentIV:      vol.CurrentIV,
		Sector:         sector,
		LiquidityScore: liquidityScore(oq),
		MeetsCriteria:  true,
	}

	// Annualized return hurdle: (premium/strike) * (365/DTE), must exceed
	// the configured minimum.
	yield, _ := oq.Premium.Div(oq.Strike).Float64()
	c.AnnualizedReturn = yield * (365.0 / float64(oq.DTE))
	if c.AnnualizedReturn <= s.cfg.MinAnnualReturn {
		c.fail(fmt.Sprintf("annualized return %.1f%% below %.0f%% hurdle",
			c.AnnualizedReturn*100, s.cfg.MinAnnualReturn*100))
	}

	// Hard filters, boundary inclusive on the passing side.
	if c.IVRank < s.cfg.IVRankMin {
		c.fail(fmt.Sprintf("IV rank %.1f < %.0f", c.IVRank, s.cfg.IVRankMin))
	}
	if c.CurrentIV < s.cfg.IVMin {
		c.fail(fmt.Sprintf("IV %.1f%% < %.0f%%", c.CurrentIV, s.cfg.IVMin))
	}
	if c.LiquidityScore < s.cfg.LiquidityMin {
		c.fail(fmt.Sprintf("liquidity score %.0f < %.0f", c.LiquidityScore, s.cfg.LiquidityMin))
	}
	if d := s.refdata.DaysToNextEarnings(sym); d < s.cfg.EarningsBufferDays {
		c.fail(fmt.Sprintf("earnings in %d days", d))
	}

	// Projected size against per-symbol and per-sector caps, in the
	// governor's current sizing context.
	size := oq.Strike.Mul(decimal.NewFromInt(100))
	nav := snap.Account.NetLiquidation
	if nav.IsPositive() {
		sizePct, _ := size.Div(nav).Float64()
		if sizePct > s.cfg.MaxPositionPct {
			c.fail(fmt.Sprintf("position %.1f%% of account exceeds %.0f%% cap",
				sizePct*100, s.cfg.MaxPositionPct*100))
		}
		sectorPct := alloc.ActualPct + sizePct
		if sectorPct > rs.SectorCap {
			c.fail(fmt.Sprintf("sector %s would reach %.1f%%, cap %.0f%%",
				sector, sectorPct*100, rs.SectorCap*100))
		}
		if rs.MinCashPct > 0 {
			cashAfter, _ := snap.Account.AvailableFunds.Sub(size).Div(nav).Float64()
			if cashAfter < rs.MinCashPct {
				c.fail(fmt.Sprintf("cash would fall below %.0f%% floor", rs.MinCashPct*100))
			}
		}
	}
	for _, blocked := range rs.BlockedSectors {
		if sector == blocked {
			c.fail(fmt.Sprintf("sector %s blocked by correlation crisis", sector))
		}
	}

	// Strike-stacking invariants against legs already open on this symbol.
	if len(pos.Puts) >= s.wheel.MaxStrikesPerSymbol {
		c.fail(fmt.Sprintf("already %d put strikes open", len(pos.Puts)))
	}
	minSep := decimal.NewFromFloat(s.wheel.MinStrikeSeparation)
	for _, leg := range pos.Puts {
		if oq.Strike.Sub(leg.Strike).Abs().LessThan(minSep) {
			c.fail(fmt.Sprintf("strike %s within %s of open leg", oq.Strike, minSep))
			break
		}
	}
	return c
}

func (c *Candidate) fail(issue string) {
	c.MeetsCriteria = false
	c.Issues = append(c.Issues, issue)
}

// liquidityScore = volume * open interest / spread fraction.
func liquidityScore(oq feed.OptionQuote) float64 {
	mid := oq.Bid.Add(oq.Ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return 0
	}
	spread, _ := oq.Ask.Sub(oq.Bid).Div(mid).Float64()
	if spread <= 0 {
		spread = 0.001
	}
	return float64(oq.Volume) * float64(oq.OpenInterest) / (spread * 10000)
}

// scoreAll computes the weighted score with cross-candidate min-max
// normalization within this scan.
func (s *Scorer) scoreAll(cands []Candidate, allocations map[string]SectorAllocation) {
	yieldN := newNormalizer()
	ivN := newNormalizer()
	liqN := newNormalizer()
	for _, c := range cands {
		yieldN.add(c.AnnualizedReturn)
		ivN.add(c.IVRank)
		liqN.add(c.LiquidityScore)
	}
	for i := range cands {
		c := &cands[i]
		gap := allocations[c.Sector].Gap()
		c.Score = weightYield*yieldN.norm(c.AnnualizedReturn) +
			weightIVRank*ivN.norm(c.IVRank) +
			weightLiquidity*liqN.norm(c.LiquidityScore) +
			weightValuation*s.factors.ValuationScore(c.Symbol, c.Strike, c.Sector) +
			weightMomentum*s.factors.MomentumScore(c.Sector) +
			weightSectorGap*gap
	}
}

// sortCandidates orders by score descending; ties prefer higher liquidity,
// then lower DTE, then symbol/strike for a stable total order.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LiquidityScore != b.LiquidityScore {
			return a.LiquidityScore > b.LiquidityScore
		}
		if a.DTE != b.DTE {
			return a.DTE < b.DTE
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Strike.LessThan(b.Strike)
	})
}

type normalizer struct {
	min, max float64
	seen     bool
}

func newNormalizer() *normalizer { return &normalizer{} }

func (n *normalizer) add(v float64) {
	if !n.seen {
		n.min, n.max, n.seen = v, v, true
		return
	}
	if v < n.min {
		n.min = v
	}
	if v > n.max {
		n.max = v
	}
}

// norm maps v into [0,1]; a degenerate range scores the midpoint.
func (n *normalizer) norm(v float64) float64 {
	if !n.seen || n.max == n.min {
		return 0.5
	}
	return (v - n.min) / (n.max - n.min)
}
