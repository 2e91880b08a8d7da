package feed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SimFeed serves a fixed scenario from a fixture. It is deterministic on
// purpose: identical fixtures produce identical snapshots, which is what the
// idempotence guarantees downstream are tested against.
type SimFeed struct {
	fixture Fixture
	now     func() time.Time
}

// Fixture is the YAML shape for a sim scenario.
type Fixture struct {
	Account struct {
		NetLiquidation float64 `yaml:"net_liquidation"`
		AvailableFunds float64 `yaml:"available_funds"`
		UnrealizedPnL  float64 `yaml:"unrealized_pnl"`
	} `yaml:"account"`
	Market struct {
		VIX                 float64  `yaml:"vix"`
		VIXPercentile       float64  `yaml:"vix_percentile"`
		SectorCorrelation   float64  `yaml:"sector_correlation"`
		TopSectors          []string `yaml:"top_correlated_sectors"`
		ExternalHaltLevel   int      `yaml:"external_halt_level"`
		BreadthPositiveDays int      `yaml:"breadth_positive_days"`
	} `yaml:"market"`
	Symbols map[string]FixtureSymbol `yaml:"symbols"`
	Positions []FixturePosition      `yaml:"positions"`
}

type FixtureSymbol struct {
	Last      float64 `yaml:"last"`
	SpreadPct float64 `yaml:"spread_pct"` // half-spread around last
	Volume    int64   `yaml:"volume"`
	IVRank    float64 `yaml:"iv_rank"`
	CurrentIV float64 `yaml:"current_iv"`
	Chain     []struct {
		Strike       float64 `yaml:"strike"`
		Premium      float64 `yaml:"premium"`
		DTE          int     `yaml:"dte"`
		OpenInterest int64   `yaml:"open_interest"`
		Volume       int64   `yaml:"volume"`
	} `yaml:"chain"`
}

type FixturePosition struct {
	Symbol        string  `yaml:"symbol"`
	SecType       string  `yaml:"sec_type"`
	Right         string  `yaml:"right"`
	Strike        float64 `yaml:"strike"`
	DTE           int     `yaml:"dte"`
	Quantity      int     `yaml:"quantity"`
	AvgCost       float64 `yaml:"avg_cost"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl"`
	Delta         float64 `yaml:"delta"`
	HasDelta      bool    `yaml:"has_delta"`
}

func NewSimFeed(fixturePath string, now func() time.Time) (*SimFeed, error) {
	b, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return NewSimFeedFrom(f, now), nil
}

func NewSimFeedFrom(f Fixture, now func() time.Time) *SimFeed {
	if now == nil {
		now = time.Now
	}
	return &SimFeed{fixture: f, now: now}
}

func (s *SimFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	fs, ok := s.fixture.Symbols[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("sim feed: unknown symbol %q", symbol)
	}
	last := decimal.NewFromFloat(fs.Last)
	half := last.Mul(decimal.NewFromFloat(fs.SpreadPct / 2))
	return Quote{
		Symbol:    symbol,
		Bid:       last.Sub(half),
		Ask:       last.Add(half),
		Last:      last,
		Volume:    fs.Volume,
		Timestamp: s.now(),
	}, nil
}

func (s *SimFeed) PutChain(ctx context.Context, symbol string) ([]OptionQuote, error) {
	fs, ok := s.fixture.Symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim feed: unknown symbol %q", symbol)
	}
	now := s.now()
	chain := make([]OptionQuote, 0, len(fs.Chain))
	for _, c := range fs.Chain {
		prem := decimal.NewFromFloat(c.Premium)
		tick := decimal.NewFromFloat(0.05)
		chain = append(chain, OptionQuote{
			Strike:       decimal.NewFromFloat(c.Strike),
			Premium:      prem,
			Bid:          prem.Sub(tick),
			Ask:          prem.Add(tick),
			Expiry:       now.AddDate(0, 0, c.DTE),
			DTE:          c.DTE,
			OpenInterest: c.OpenInterest,
			Volume:       c.Volume,
		})
	}
	return chain, nil
}

func (s *SimFeed) VolMetrics(ctx context.Context, symbol string) (VolMetrics, error) {
	fs, ok := s.fixture.Symbols[strings.ToUpper(symbol)]
	if !ok {
		return VolMetrics{}, fmt.Errorf("sim feed: unknown symbol %q", symbol)
	}
	return VolMetrics{IVRank: fs.IVRank, CurrentIV: fs.CurrentIV}, nil
}

func (s *SimFeed) Positions(ctx context.Context) ([]RawPosition, error) {
	now := s.now()
	out := make([]RawPosition, 0, len(s.fixture.Positions))
	for _, p := range s.fixture.Positions {
		rp := RawPosition{
			Symbol:        strings.ToUpper(p.Symbol),
			SecType:       p.SecType,
			Right:         p.Right,
			Strike:        decimal.NewFromFloat(p.Strike),
			Quantity:      p.Quantity,
			AvgCost:       decimal.NewFromFloat(p.AvgCost),
			UnrealizedPnL: decimal.NewFromFloat(p.UnrealizedPnL),
			Delta:         p.Delta,
			HasDelta:      p.HasDelta,
		}
		if p.SecType == "OPT" {
			rp.Expiry = now.AddDate(0, 0, p.DTE)
		}
		out = append(out, rp)
	}
	return out, nil
}

func (s *SimFeed) Account(ctx context.Context) (AccountSummary, error) {
	a := s.fixture.Account
	return AccountSummary{
		NetLiquidation: decimal.NewFromFloat(a.NetLiquidation),
		AvailableFunds: decimal.NewFromFloat(a.AvailableFunds),
		UnrealizedPnL:  decimal.NewFromFloat(a.UnrealizedPnL),
	}, nil
}

func (s *SimFeed) Market(ctx context.Context) (MarketContext, error) {
	m := s.fixture.Market
	mc := MarketContext{
		VIX:                 m.VIX,
		VIXPercentile:       m.VIXPercentile,
		SectorCorrelation:   m.SectorCorrelation,
		ExternalHaltLevel:   m.ExternalHaltLevel,
		BreadthPositiveDays: m.BreadthPositiveDays,
	}
	for i := 0; i < len(m.TopSectors) && i < 2; i++ {
		mc.TopCorrelatedSectors[i] = m.TopSectors[i]
	}
	return mc, nil
}
