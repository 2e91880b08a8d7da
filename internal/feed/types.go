package feed

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a normalized underlying quote. Money fields are fixed-point.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// OptionQuote is one entry of a put chain for a symbol.
type OptionQuote struct {
	Strike       decimal.Decimal `json:"strike"`
	Premium      decimal.Decimal `json:"premium"` // mid premium per share
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Expiry       time.Time       `json:"expiry"`
	DTE          int             `json:"dte"`
	OpenInterest int64           `json:"open_interest"`
	Volume       int64           `json:"volume"`
}

// VolMetrics come from the external volatility metrics provider; the core
// never computes IV itself.
type VolMetrics struct {
	IVRank    float64 `json:"iv_rank"`    // percentile 0-100
	CurrentIV float64 `json:"current_iv"` // percent, e.g. 32.5
}

// AccountSummary mirrors the broker account fields the engine consumes.
type AccountSummary struct {
	NetLiquidation decimal.Decimal `json:"net_liquidation"`
	AvailableFunds decimal.Decimal `json:"available_funds"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// RawPosition is one broker position row, options and stock alike.
// Option rows carry strike/right/expiry; stock rows leave them zero.
type RawPosition struct {
	Symbol        string          `json:"symbol"`
	SecType       string          `json:"sec_type"` // "STK" | "OPT"
	Right         string          `json:"right"`    // "P" | "C" for options
	Strike        decimal.Decimal `json:"strike"`
	Expiry        time.Time       `json:"expiry"`
	Quantity      int             `json:"quantity"` // negative = short
	AvgCost       decimal.Decimal `json:"avg_cost"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Delta         float64         `json:"delta"`
	HasDelta      bool            `json:"has_delta"`
}

// MarketContext aggregates market-wide inputs for the risk governor.
type MarketContext struct {
	VIX                  float64   `json:"vix"`
	VIXPercentile        float64   `json:"vix_percentile"` // 0-100
	SectorCorrelation    float64   `json:"sector_correlation"`
	TopCorrelatedSectors [2]string `json:"top_correlated_sectors"`
	ExternalHaltLevel    int       `json:"external_halt_level"` // market-wide circuit breaker 0-3
	BreadthPositiveDays  int       `json:"breadth_positive_days"`
}

// Snapshot is the joined, fully-populated input for one evaluation cycle.
// Nothing downstream runs until every section is present; the gatherer
// enforces the barrier.
type Snapshot struct {
	TakenAt   time.Time                `json:"taken_at"`
	Account   AccountSummary           `json:"account"`
	Positions []RawPosition            `json:"positions"`
	Quotes    map[string]Quote         `json:"quotes"`
	Chains    map[string][]OptionQuote `json:"chains"`
	Vol       map[string]VolMetrics    `json:"vol"`
	Market    MarketContext            `json:"market"`
	Stale     bool                     `json:"stale"`
}

// Age reports snapshot age as of now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}
