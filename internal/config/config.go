package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure. Configuration
// errors are fatal at startup only; the engine refuses to initialize.
var ErrInvalidConfig = errors.New("invalid configuration")

type Feed struct {
	Mode                string  `yaml:"mode"` // sim | live
	Concurrency         int     `yaml:"concurrency"`
	StalenessSLASeconds int     `yaml:"staleness_sla_seconds"`
	RateLimitPerSec     float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst      int     `yaml:"rate_limit_burst"`
	FixturePath         string  `yaml:"fixture_path"`
}

type Wheel struct {
	MaxStrikesPerSymbol int     `yaml:"max_strikes_per_symbol"`
	MinStrikeSeparation float64 `yaml:"min_strike_separation"`
}

type BlackSwan struct {
	VIXTrigger         float64 `yaml:"vix_trigger"`
	CorrelationTrigger float64 `yaml:"correlation_trigger"`
	HaltLevelTrigger   int     `yaml:"halt_level_trigger"`
	ForceCloseDTE      int     `yaml:"force_close_dte"`
	MinCashPct         float64 `yaml:"min_cash_pct"`
	StageWindowDays    int     `yaml:"stage_window_days"`
}

type WinStreak struct {
	CautionAt    int     `yaml:"caution_at"`
	CautionCap   float64 `yaml:"caution_cap"`
	MaxAt        int     `yaml:"max_at"`
	MaxCap       float64 `yaml:"max_cap"`
}

type Risk struct {
	PeakDrawdownPct      float64   `yaml:"peak_drawdown_pct"`
	WeeklyDrawdownPct    float64   `yaml:"weekly_drawdown_pct"`
	ConsecutiveLossDays  int       `yaml:"consecutive_loss_days"`
	RecoveryTradingDays  int       `yaml:"recovery_trading_days"`
	RampStepDays         int       `yaml:"ramp_step_days"`
	CorrelationThreshold float64   `yaml:"correlation_threshold"`
	BlackSwan            BlackSwan `yaml:"black_swan"`
	WinStreak            WinStreak `yaml:"win_streak"`
	StatePath            string    `yaml:"state_path"`
}

type StrikeGrid struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
	Step float64 `yaml:"step"`
}

type Scanner struct {
	IVRankMin          float64    `yaml:"iv_rank_min"`
	IVMin              float64    `yaml:"iv_min"`
	LiquidityMin       float64    `yaml:"liquidity_min"`
	EarningsBufferDays int        `yaml:"earnings_buffer_days"`
	MinAnnualReturn    float64    `yaml:"min_annual_return"`
	MaxPositionPct     float64    `yaml:"max_position_pct"`
	Grid               StrikeGrid `yaml:"strike_grid"`
}

type Engine struct {
	RollDeltaThreshold float64 `yaml:"roll_delta_threshold"`
	RollDTE            int     `yaml:"roll_dte"`
	EfficiencyProfit   float64 `yaml:"efficiency_profit"`
	EfficiencyMinDTE   int     `yaml:"efficiency_min_dte"`
	CallCloseProfitLo  float64 `yaml:"call_close_profit_lo"`
	CallCloseProfitHi  float64 `yaml:"call_close_profit_hi"`
}

type Decisions struct {
	Path      string `yaml:"path"`
	MaxPerDay int    `yaml:"max_per_day"`
}

type Workflow struct {
	Morning   string `yaml:"morning"`
	Afternoon string `yaml:"afternoon"`
	EndOfDay  string `yaml:"end_of_day"`
}

type Notify struct {
	Mode       string `yaml:"mode"` // console | webhook
	WebhookURL string `yaml:"webhook_url"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Root struct {
	ExchangeTimezone     string             `yaml:"exchange_timezone"`
	CycleIntervalSeconds int                `yaml:"cycle_interval_seconds"`
	Watchlist            []string           `yaml:"watchlist"`
	SectorTargets        map[string]float64 `yaml:"sector_targets"`
	RefDataPath          string             `yaml:"refdata_path"`
	Feed                 Feed               `yaml:"feed"`
	Wheel                Wheel              `yaml:"wheel"`
	Risk                 Risk               `yaml:"risk"`
	Scanner              Scanner            `yaml:"scanner"`
	Engine               Engine             `yaml:"engine"`
	Decisions            Decisions          `yaml:"decisions"`
	Workflow             Workflow           `yaml:"workflow"`
	Notify               Notify             `yaml:"notify"`
	HTTP                 HTTP               `yaml:"http"`

	// Resolved from ExchangeTimezone during Validate.
	Location *time.Location `yaml:"-"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.ExchangeTimezone == "" {
		c.ExchangeTimezone = "America/New_York"
	}
	if c.CycleIntervalSeconds == 0 {
		c.CycleIntervalSeconds = 60
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = "sim"
	}
	if c.Feed.Concurrency == 0 {
		c.Feed.Concurrency = 4
	}
	if c.Feed.StalenessSLASeconds == 0 {
		c.Feed.StalenessSLASeconds = 300
	}
	if c.Feed.RateLimitPerSec == 0 {
		c.Feed.RateLimitPerSec = 5
	}
	if c.Feed.RateLimitBurst == 0 {
		c.Feed.RateLimitBurst = 10
	}
	if c.Wheel.MaxStrikesPerSymbol == 0 {
		c.Wheel.MaxStrikesPerSymbol = 2
	}
	if c.Wheel.MinStrikeSeparation == 0 {
		c.Wheel.MinStrikeSeparation = 5.0
	}
	if c.Risk.PeakDrawdownPct == 0 {
		c.Risk.PeakDrawdownPct = 0.20
	}
	if c.Risk.WeeklyDrawdownPct == 0 {
		c.Risk.WeeklyDrawdownPct = 0.10
	}
	if c.Risk.ConsecutiveLossDays == 0 {
		c.Risk.ConsecutiveLossDays = 3
	}
	if c.Risk.RecoveryTradingDays == 0 {
		c.Risk.RecoveryTradingDays = 5
	}
	if c.Risk.RampStepDays == 0 {
		c.Risk.RampStepDays = 2
	}
	if c.Risk.CorrelationThreshold == 0 {
		c.Risk.CorrelationThreshold = 0.80
	}
	if c.Risk.BlackSwan.VIXTrigger == 0 {
		c.Risk.BlackSwan.VIXTrigger = 50
	}
	if c.Risk.BlackSwan.CorrelationTrigger == 0 {
		c.Risk.BlackSwan.CorrelationTrigger = 0.90
	}
	if c.Risk.BlackSwan.HaltLevelTrigger == 0 {
		c.Risk.BlackSwan.HaltLevelTrigger = 3
	}
	if c.Risk.BlackSwan.ForceCloseDTE == 0 {
		c.Risk.BlackSwan.ForceCloseDTE = 14
	}
	if c.Risk.BlackSwan.MinCashPct == 0 {
		c.Risk.BlackSwan.MinCashPct = 0.30
	}
	if c.Risk.BlackSwan.StageWindowDays == 0 {
		c.Risk.BlackSwan.StageWindowDays = 5
	}
	if c.Risk.WinStreak.CautionAt == 0 {
		c.Risk.WinStreak.CautionAt = 8
	}
	if c.Risk.WinStreak.CautionCap == 0 {
		c.Risk.WinStreak.CautionCap = 0.75
	}
	if c.Risk.WinStreak.MaxAt == 0 {
		c.Risk.WinStreak.MaxAt = 10
	}
	if c.Risk.WinStreak.MaxCap == 0 {
		c.Risk.WinStreak.MaxCap = 0.50
	}
	if c.Risk.StatePath == "" {
		c.Risk.StatePath = "data/risk_state.json"
	}
	if c.Scanner.IVRankMin == 0 {
		c.Scanner.IVRankMin = 50
	}
	if c.Scanner.IVMin == 0 {
		c.Scanner.IVMin = 20
	}
	if c.Scanner.LiquidityMin == 0 {
		c.Scanner.LiquidityMin = 500
	}
	if c.Scanner.EarningsBufferDays == 0 {
		c.Scanner.EarningsBufferDays = 7
	}
	if c.Scanner.MinAnnualReturn == 0 {
		c.Scanner.MinAnnualReturn = 0.20
	}
	if c.Scanner.MaxPositionPct == 0 {
		c.Scanner.MaxPositionPct = 0.10
	}
	if c.Scanner.Grid.Low == 0 {
		c.Scanner.Grid.Low = 0.80
	}
	if c.Scanner.Grid.High == 0 {
		c.Scanner.Grid.High = 0.95
	}
	if c.Scanner.Grid.Step == 0 {
		c.Scanner.Grid.Step = 0.05
	}
	if c.Engine.RollDeltaThreshold == 0 {
		c.Engine.RollDeltaThreshold = 0.50
	}
	if c.Engine.RollDTE == 0 {
		c.Engine.RollDTE = 21
	}
	if c.Engine.EfficiencyProfit == 0 {
		c.Engine.EfficiencyProfit = 0.80
	}
	if c.Engine.EfficiencyMinDTE == 0 {
		c.Engine.EfficiencyMinDTE = 7
	}
	if c.Engine.CallCloseProfitLo == 0 {
		c.Engine.CallCloseProfitLo = 0.50
	}
	if c.Engine.CallCloseProfitHi == 0 {
		c.Engine.CallCloseProfitHi = 0.70
	}
	if c.Decisions.Path == "" {
		c.Decisions.Path = "data/decisions.jsonl"
	}
	if c.Decisions.MaxPerDay == 0 {
		c.Decisions.MaxPerDay = 3
	}
	if c.Workflow.Morning == "" {
		c.Workflow.Morning = "35 9 * * 1-5"
	}
	if c.Workflow.Afternoon == "" {
		c.Workflow.Afternoon = "0 14 * * 1-5"
	}
	if c.Workflow.EndOfDay == "" {
		c.Workflow.EndOfDay = "5 16 * * 1-5"
	}
	if c.Notify.Mode == "" {
		c.Notify.Mode = "console"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Root) Validate() error {
	loc, err := time.LoadLocation(c.ExchangeTimezone)
	if err != nil {
		return fmt.Errorf("%w: exchange_timezone %q: %v", ErrInvalidConfig, c.ExchangeTimezone, err)
	}
	c.Location = loc

	if c.CycleIntervalSeconds < 30 || c.CycleIntervalSeconds > 300 {
		return fmt.Errorf("%w: cycle_interval_seconds %d outside [30,300]", ErrInvalidConfig, c.CycleIntervalSeconds)
	}
	if c.Decisions.MaxPerDay < 1 {
		return fmt.Errorf("%w: decisions.max_per_day must be >= 1", ErrInvalidConfig)
	}
	if c.Scanner.Grid.Low >= c.Scanner.Grid.High {
		return fmt.Errorf("%w: strike_grid low %.2f >= high %.2f", ErrInvalidConfig, c.Scanner.Grid.Low, c.Scanner.Grid.High)
	}
	if c.Scanner.Grid.Step <= 0 {
		return fmt.Errorf("%w: strike_grid step must be positive", ErrInvalidConfig)
	}
	if c.Engine.CallCloseProfitLo >= c.Engine.CallCloseProfitHi {
		return fmt.Errorf("%w: call_close_profit_lo %.2f >= call_close_profit_hi %.2f",
			ErrInvalidConfig, c.Engine.CallCloseProfitLo, c.Engine.CallCloseProfitHi)
	}
	if c.Risk.WinStreak.CautionAt >= c.Risk.WinStreak.MaxAt {
		return fmt.Errorf("%w: win_streak caution_at %d >= max_at %d",
			ErrInvalidConfig, c.Risk.WinStreak.CautionAt, c.Risk.WinStreak.MaxAt)
	}
	if c.Risk.RampStepDays < 2 || c.Risk.RampStepDays > 3 {
		return fmt.Errorf("%w: ramp_step_days %d outside [2,3]", ErrInvalidConfig, c.Risk.RampStepDays)
	}
	if c.Risk.CorrelationThreshold >= c.Risk.BlackSwan.CorrelationTrigger {
		return fmt.Errorf("%w: correlation_threshold %.2f >= black_swan correlation_trigger %.2f",
			ErrInvalidConfig, c.Risk.CorrelationThreshold, c.Risk.BlackSwan.CorrelationTrigger)
	}
	total := 0.0
	for sector, pct := range c.SectorTargets {
		if pct < 0 || pct > 1 {
			return fmt.Errorf("%w: sector target %q = %.2f outside [0,1]", ErrInvalidConfig, sector, pct)
		}
		total += pct
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("%w: sector targets sum %.2f > 1.0", ErrInvalidConfig, total)
	}
	if c.Feed.Mode != "sim" && c.Feed.Mode != "live" {
		return fmt.Errorf("%w: feed.mode %q (want sim or live)", ErrInvalidConfig, c.Feed.Mode)
	}
	return nil
}
