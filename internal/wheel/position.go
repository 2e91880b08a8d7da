package wheel

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the derived lifecycle state of a wheel cycle for one symbol.
// Transitions only move forward within a cycle: PutOpen -> Assigned ->
// CallOpen -> Closed, and Closed positions are eligible to restart.
type State string

const (
	StatePutOpen  State = "put_open"
	StateAssigned State = "assigned"
	StateCallOpen State = "call_open"
	StateClosed   State = "closed"
)

// Leg is one short option leg of a wheel position.
type Leg struct {
	Strike        decimal.Decimal `json:"strike"`
	Credit        decimal.Decimal `json:"credit"` // premium collected per share
	Expiry        time.Time       `json:"expiry"`
	DTE           int             `json:"dte"`
	Quantity      int             `json:"quantity"` // contracts, negative = short
	Delta         float64         `json:"delta"`
	HasDelta      bool            `json:"has_delta"`
	ProfitPct     float64         `json:"profit_pct"` // fraction of credit captured
}

// WheelPosition is the merged view of all legs and shares for one underlying.
type WheelPosition struct {
	Symbol       string          `json:"symbol"`
	Puts         []Leg           `json:"puts"`  // ordered by strike ascending
	Calls        []Leg           `json:"calls"` // ordered by strike ascending
	SharesOwned  int             `json:"shares_owned"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	State        State           `json:"state"`
	Degraded     bool            `json:"degraded"` // served from last-good derivation
}

func (w *WheelPosition) HasShares() bool      { return w.SharesOwned > 0 }
func (w *WheelPosition) HasActivePuts() bool  { return len(w.Puts) > 0 }
func (w *WheelPosition) HasActiveCalls() bool { return len(w.Calls) > 0 }

// deriveState maps leg/share presence onto the lifecycle state.
func (w *WheelPosition) deriveState() State {
	switch {
	case w.HasShares() && w.HasActiveCalls():
		return StateCallOpen
	case w.HasShares():
		return StateAssigned
	case w.HasActivePuts():
		return StatePutOpen
	default:
		return StateClosed
	}
}

// EventType labels a detected lifecycle transition.
type EventType string

const (
	EventPutOpened EventType = "put_opened"
	EventAssigned  EventType = "assigned"
	EventCallSold  EventType = "call_sold"
	EventClosed    EventType = "closed"
)

// LifecycleEvent is emitted when a position's state changed relative to the
// previous cycle's ledger, for audit by the decision ledger.
type LifecycleEvent struct {
	Symbol string    `json:"symbol"`
	Type   EventType `json:"type"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
}
