package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

func TestDeployedCapital(t *testing.T) {
	pos := wheel.WheelPosition{
		Symbol: "AAPL",
		State:  wheel.StatePutOpen,
		Puts: []wheel.Leg{
			{Strike: decimal.NewFromInt(200), Quantity: -1},
			{Strike: decimal.NewFromInt(190), Quantity: -2},
		},
	}
	// 200*100 + 190*100*2 = 58000 of put collateral.
	if got := deployedCapital(pos); got.String() != "58000" {
		t.Fatalf("deployedCapital = %s", got)
	}

	pos = wheel.WheelPosition{
		Symbol:      "AAPL",
		State:       wheel.StateAssigned,
		SharesOwned: 100,
		CostBasis:   decimal.NewFromInt(200),
	}
	if got := deployedCapital(pos); got.String() != "20000" {
		t.Fatalf("deployedCapital with shares = %s", got)
	}
}

func TestSectorAllocations(t *testing.T) {
	rd := &refdata.Fake{Sectors: map[string]string{"AAPL": "Technology", "JPM": "Financials"}}
	positions := []wheel.WheelPosition{
		{
			Symbol: "AAPL", State: wheel.StatePutOpen,
			Puts: []wheel.Leg{{Strike: decimal.NewFromInt(200), Quantity: -1}},
		},
		{
			Symbol: "JPM", State: wheel.StateAssigned,
			SharesOwned: 100, CostBasis: decimal.NewFromInt(300),
		},
	}
	nav := decimal.NewFromInt(200000)
	targets := map[string]float64{"Technology": 0.25, "Financials": 0.20, "Energy": 0.15}

	allocs := sectorAllocations(positions, nav, rd, targets)

	if got := allocs["Technology"].ActualPct; got < 0.099 || got > 0.101 {
		t.Fatalf("Technology actual = %v, want 0.10", got)
	}
	if got := allocs["Financials"].ActualPct; got < 0.149 || got > 0.151 {
		t.Fatalf("Financials actual = %v, want 0.15", got)
	}
	// Untouched sectors still appear with their targets so the scorer can
	// reward the gap.
	if a, ok := allocs["Energy"]; !ok || a.ActualPct != 0 || a.TargetPct != 0.15 {
		t.Fatalf("Energy allocation = %+v", a)
	}
}

func TestMarketRegime(t *testing.T) {
	cases := []struct {
		name   string
		m      feed.MarketContext
		crisis bool
		want   string
	}{
		{"bull", feed.MarketContext{VIXPercentile: 30, BreadthPositiveDays: 4}, false, RegimeBull},
		{"neutral_low_breadth", feed.MarketContext{VIXPercentile: 30, BreadthPositiveDays: 1}, false, RegimeNeutral},
		{"bear_vix", feed.MarketContext{VIXPercentile: 80}, false, RegimeBear},
		{"bear_crisis", feed.MarketContext{VIXPercentile: 30, BreadthPositiveDays: 4}, true, RegimeBear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := marketRegime(tc.m, tc.crisis); got != tc.want {
				t.Fatalf("marketRegime = %s, want %s", got, tc.want)
			}
		})
	}
}
