package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/feed"
)

func testRiskConfig() config.Risk {
	return config.Risk{
		PeakDrawdownPct:      0.20,
		WeeklyDrawdownPct:    0.10,
		ConsecutiveLossDays:  3,
		RecoveryTradingDays:  5,
		RampStepDays:         2,
		CorrelationThreshold: 0.80,
		BlackSwan: config.BlackSwan{
			VIXTrigger:         50,
			CorrelationTrigger: 0.90,
			HaltLevelTrigger:   3,
			ForceCloseDTE:      14,
			MinCashPct:         0.30,
			StageWindowDays:    5,
		},
		WinStreak: config.WinStreak{
			CautionAt:  8,
			CautionCap: 0.75,
			MaxAt:      10,
			MaxCap:     0.50,
		},
	}
}

type testMarket struct {
	VIX               float64
	VIXPercentile     float64
	SectorCorrelation float64
	ExternalHaltLevel int
	TopSectors        [2]string
}

func (m testMarket) toContext() feed.MarketContext {
	return feed.MarketContext{
		VIX:                  m.VIX,
		VIXPercentile:        m.VIXPercentile,
		SectorCorrelation:    m.SectorCorrelation,
		TopCorrelatedSectors: m.TopSectors,
		ExternalHaltLevel:    m.ExternalHaltLevel,
	}
}

func calmMarket() testMarket {
	return testMarket{VIX: 15, VIXPercentile: 40, SectorCorrelation: 0.5}
}

func inputsOn(day string, value float64, m testMarket) Inputs {
	t, _ := time.Parse("2006-01-02", day)
	return Inputs{
		Now:          t.Add(15 * time.Hour),
		TradingDay:   day,
		AccountValue: decimal.NewFromFloat(value),
		Market:       m.toContext(),
	}
}

func TestCircuitBreakerActivatesOnPeakDrawdown(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")

	// Same cycle as the breach, not next day.
	s = g.Evaluate(s, inputsOn("2026-03-02", 79000, calmMarket()))
	if !s.CircuitBreaker.Active {
		t.Fatal("expected circuit breaker active at 21% drawdown from peak")
	}
	if s.SizeMultiplier != 0 {
		t.Fatalf("SizeMultiplier = %v, want 0 while breaker active", s.SizeMultiplier)
	}
	if s.ActiveProtection != ProtectionCircuitBreaker {
		t.Fatalf("ActiveProtection = %q", s.ActiveProtection)
	}
}

func TestCircuitBreakerRecoveryAndRamp(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")
	s = g.Evaluate(s, inputsOn("2026-03-02", 79000, calmMarket()))
	if !s.CircuitBreaker.Active {
		t.Fatal("breaker should be active")
	}

	// Account recovers above every trigger; five trading days must still
	// elapse before deactivation.
	days := []string{"2026-03-03", "2026-03-04", "2026-03-05", "2026-03-06", "2026-03-09"}
	for i, day := range days {
		s = g.Evaluate(s, inputsOn(day, 95000+float64(i)*500, calmMarket()))
		if i < len(days)-1 && !s.CircuitBreaker.Active {
			t.Fatalf("breaker deactivated early on day %d (%s)", i+1, day)
		}
	}
	if s.CircuitBreaker.Active {
		t.Fatal("breaker should have deactivated after 5 clear trading days")
	}
	if s.CircuitBreaker.RampStep != 1 {
		t.Fatalf("RampStep = %d, want 1", s.CircuitBreaker.RampStep)
	}
	if s.SizeMultiplier != 0.25 {
		t.Fatalf("SizeMultiplier = %v, want 0.25 at ramp step 1", s.SizeMultiplier)
	}

	// Each ramp step holds for RampStepDays trading days.
	s = g.Evaluate(s, inputsOn("2026-03-10", 97500, calmMarket()))
	s = g.Evaluate(s, inputsOn("2026-03-11", 97600, calmMarket()))
	if s.CircuitBreaker.RampStep != 2 {
		t.Fatalf("RampStep = %d, want 2 after %d more days", s.CircuitBreaker.RampStep, 2)
	}
	if s.SizeMultiplier != 0.50 {
		t.Fatalf("SizeMultiplier = %v, want 0.50 at ramp step 2", s.SizeMultiplier)
	}
}

func TestBlackSwanStages(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")

	spike := calmMarket()
	spike.VIX = 58
	s = g.Evaluate(s, inputsOn("2026-03-02", 100000, spike))
	if !s.BlackSwan.Active || s.BlackSwan.Stage != 0 {
		t.Fatalf("expected active stage 0, got active=%v stage=%d", s.BlackSwan.Active, s.BlackSwan.Stage)
	}
	if s.SizeMultiplier != 0.25 {
		t.Fatalf("SizeMultiplier = %v, want 0.25 at stage 0", s.SizeMultiplier)
	}
	if s.ForceCloseDTE != 14 {
		t.Fatalf("ForceCloseDTE = %d, want 14 during stage 0", s.ForceCloseDTE)
	}
	if s.MinCashPct != 0.30 {
		t.Fatalf("MinCashPct = %v, want 0.30 while active", s.MinCashPct)
	}

	// Five clean trading days advance one stage.
	days := []string{"2026-03-03", "2026-03-04", "2026-03-05", "2026-03-06", "2026-03-09"}
	for _, day := range days {
		s = g.Evaluate(s, inputsOn(day, 100000, calmMarket()))
	}
	if s.BlackSwan.Stage != 1 {
		t.Fatalf("Stage = %d, want 1 after clean window", s.BlackSwan.Stage)
	}
	if s.SizeMultiplier != 0.50 {
		t.Fatalf("SizeMultiplier = %v, want 0.50 at stage 1", s.SizeMultiplier)
	}
	if s.ForceCloseDTE != 0 {
		t.Fatalf("ForceCloseDTE = %d, want 0 past stage 0", s.ForceCloseDTE)
	}

	// A re-trigger resets to stage 0.
	s = g.Evaluate(s, inputsOn("2026-03-10", 100000, spike))
	if s.BlackSwan.Stage != 0 || s.BlackSwan.CleanDays != 0 {
		t.Fatalf("re-trigger should reset: stage=%d clean=%d", s.BlackSwan.Stage, s.BlackSwan.CleanDays)
	}
}

func TestCorrelationCrisisHalvesAndBlocks(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")

	m := calmMarket()
	m.SectorCorrelation = 0.85
	m.TopSectors = [2]string{"Technology", "Financials"}
	s = g.Evaluate(s, inputsOn("2026-03-02", 100000, m))

	if s.SizeMultiplier != 0.5 {
		t.Fatalf("SizeMultiplier = %v, want 0.5 in correlation crisis", s.SizeMultiplier)
	}
	if len(s.BlockedSectors) != 2 || s.BlockedSectors[0] != "Technology" {
		t.Fatalf("BlockedSectors = %v", s.BlockedSectors)
	}
	if s.ActiveProtection != ProtectionCorrelationCrisis {
		t.Fatalf("ActiveProtection = %q", s.ActiveProtection)
	}
}

func TestWinStreakCaps(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")

	cases := []struct {
		wins int
		want float64
	}{
		{7, 1.0},
		{8, 0.75},
		{9, 0.75},
		{10, 0.50},
		{12, 0.50},
	}
	for _, tc := range cases {
		s.ConsecutiveWins = tc.wins
		got := g.Evaluate(s, inputsOn("2026-03-02", 100000, calmMarket()))
		if got.SizeMultiplier != tc.want {
			t.Errorf("wins=%d: SizeMultiplier = %v, want %v", tc.wins, got.SizeMultiplier, tc.want)
		}
	}

	// One loss resets the streak.
	s.ConsecutiveWins = 10
	s = g.RecordTradeResult(s, false)
	if s.ConsecutiveWins != 0 {
		t.Fatalf("ConsecutiveWins = %d after loss, want 0", s.ConsecutiveWins)
	}
	s = g.RecordTradeResult(s, true)
	if s.ConsecutiveWins != 1 {
		t.Fatalf("ConsecutiveWins = %d after win, want 1", s.ConsecutiveWins)
	}
}

func TestSectorCapByVIXPercentile(t *testing.T) {
	g := NewGovernor(testRiskConfig())

	cases := []struct {
		name       string
		percentile float64
		crisis     bool
		want       float64
	}{
		{"calm", 40, false, 0.25},
		{"elevated", 80, false, 0.20},
		{"boundary_75", 75, false, 0.20},
		{"extreme", 92, false, 0.15},
		{"extreme_with_crisis", 92, true, 0.10},
		{"calm_with_crisis", 40, true, 0.20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.sectorCap(tc.percentile, tc.crisis); got != tc.want {
				t.Fatalf("sectorCap(%v, %v) = %v, want %v", tc.percentile, tc.crisis, got, tc.want)
			}
		})
	}
}

func TestConsecutiveLossDaysActivateBreaker(t *testing.T) {
	g := NewGovernor(testRiskConfig())
	s := NewState(decimal.NewFromInt(100000), "2026-03-02")

	s = g.Evaluate(s, inputsOn("2026-03-02", 100000, calmMarket()))
	s = g.Evaluate(s, inputsOn("2026-03-03", 99000, calmMarket()))
	s = g.Evaluate(s, inputsOn("2026-03-04", 98000, calmMarket()))
	if s.CircuitBreaker.Active {
		t.Fatal("two losing days should not trip the breaker")
	}
	s = g.Evaluate(s, inputsOn("2026-03-05", 97000, calmMarket()))
	if !s.CircuitBreaker.Active {
		t.Fatal("three consecutive losing days should trip the breaker")
	}
}
