package wheel

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/observ"
)

// ErrDataIncomplete marks a snapshot row missing a required field. The ledger
// never invents state from a malformed row; it falls back to the last good
// derivation for that symbol and marks it Degraded.
var ErrDataIncomplete = errors.New("position data incomplete")

// Ledger derives WheelPosition entities from raw broker snapshots and
// detects lifecycle transitions between consecutive cycles.
type Ledger struct {
	maxStrikesPerSide int
	minStrikeSep      decimal.Decimal
	prev              map[string]WheelPosition
}

func NewLedger(maxStrikesPerSide int, minStrikeSep float64) *Ledger {
	return &Ledger{
		maxStrikesPerSide: maxStrikesPerSide,
		minStrikeSep:      decimal.NewFromFloat(minStrikeSep),
		prev:              map[string]WheelPosition{},
	}
}

// Derive groups raw rows by underlying, merges legs into wheel positions,
// and emits one lifecycle event per symbol whose state moved since the last
// cycle. At most one transition per symbol per cycle.
func (l *Ledger) Derive(snap *feed.Snapshot) ([]WheelPosition, []LifecycleEvent, error) {
	bySymbol := map[string][]feed.RawPosition{}
	for _, p := range snap.Positions {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	// Include symbols that closed out entirely since last cycle.
	for s := range l.prev {
		if _, ok := bySymbol[s]; !ok {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	next := map[string]WheelPosition{}
	var positions []WheelPosition
	var events []LifecycleEvent

	for _, sym := range symbols {
		rows := bySymbol[sym]
		pos, err := l.merge(sym, rows, snap)
		if err != nil {
			observ.IncCounter("ledger_degraded_total", map[string]string{"symbol": sym})
			observ.LogError("ledger_data_incomplete", err, map[string]any{"symbol": sym})
			if last, ok := l.prev[sym]; ok {
				last.Degraded = true
				next[sym] = last
				positions = append(positions, last)
			}
			// No last-good derivation: the symbol is absent this cycle
			// rather than invented.
			continue
		}

		prev, existed := l.prev[sym]
		if ev, ok := l.transition(prev, pos, existed, snap); ok {
			events = append(events, ev)
		}

		if pos.State == StateClosed {
			// Leg-less, share-less records drop out of the ledger; the
			// close event above is their last trace.
			continue
		}
		l.checkStrikeInvariants(&pos)
		next[sym] = pos
		positions = append(positions, pos)
	}

	l.prev = next
	observ.SetGauge("ledger_positions", float64(len(positions)), nil)
	return positions, events, nil
}

// Previous returns the last derivation for a symbol, if any.
func (l *Ledger) Previous(symbol string) (WheelPosition, bool) {
	p, ok := l.prev[symbol]
	return p, ok
}

func (l *Ledger) merge(symbol string, rows []feed.RawPosition, snap *feed.Snapshot) (WheelPosition, error) {
	pos := WheelPosition{Symbol: symbol, CostBasis: decimal.Zero, TotalCredits: decimal.Zero}
	for _, r := range rows {
		switch r.SecType {
		case "STK":
			if r.Quantity == 0 {
				continue
			}
			// Multiple stock rows blend into a quantity-weighted basis.
			held := decimal.NewFromInt(int64(pos.SharesOwned))
			added := decimal.NewFromInt(int64(r.Quantity))
			pos.SharesOwned += r.Quantity
			if pos.SharesOwned != 0 {
				pos.CostBasis = pos.CostBasis.Mul(held).
					Add(r.AvgCost.Mul(added)).
					Div(decimal.NewFromInt(int64(pos.SharesOwned)))
			}
		case "OPT":
			if err := validateOptionRow(r); err != nil {
				return WheelPosition{}, err
			}
			if r.Quantity >= 0 {
				// Long options are not part of a wheel; ignore.
				continue
			}
			leg := Leg{
				Strike:   r.Strike,
				Credit:   r.AvgCost,
				Expiry:   r.Expiry,
				DTE:      int(r.Expiry.Sub(snap.TakenAt).Hours() / 24),
				Quantity: r.Quantity,
				Delta:    r.Delta,
				HasDelta: r.HasDelta,
			}
			if denom := r.AvgCost.Abs().Mul(decimal.NewFromInt(int64(abs(r.Quantity)))); denom.IsPositive() {
				f, _ := r.UnrealizedPnL.Div(denom).Float64()
				leg.ProfitPct = f
			}
			pos.TotalCredits = pos.TotalCredits.Add(r.AvgCost.Abs())
			if r.Right == "P" {
				pos.Puts = append(pos.Puts, leg)
			} else {
				pos.Calls = append(pos.Calls, leg)
			}
		default:
			return WheelPosition{}, fmt.Errorf("%w: %s unknown sec_type %q", ErrDataIncomplete, symbol, r.SecType)
		}
	}
	sortLegs(pos.Puts)
	sortLegs(pos.Calls)
	pos.State = pos.deriveState()
	return pos, nil
}

func validateOptionRow(r feed.RawPosition) error {
	if !r.Strike.IsPositive() {
		return fmt.Errorf("%w: %s option row missing strike", ErrDataIncomplete, r.Symbol)
	}
	if r.Right != "P" && r.Right != "C" {
		return fmt.Errorf("%w: %s option row missing right", ErrDataIncomplete, r.Symbol)
	}
	if r.Quantity == 0 {
		return fmt.Errorf("%w: %s option row missing quantity", ErrDataIncomplete, r.Symbol)
	}
	return nil
}

// transition detects at most one lifecycle event for the symbol this cycle.
func (l *Ledger) transition(prev, cur WheelPosition, existed bool, snap *feed.Snapshot) (LifecycleEvent, bool) {
	ev := LifecycleEvent{Symbol: cur.Symbol, To: cur.State, At: snap.TakenAt}
	if !existed {
		if cur.State == StatePutOpen {
			ev.Type = EventPutOpened
			ev.From = StateClosed
			return ev, true
		}
		return LifecycleEvent{}, false
	}
	ev.From = prev.State
	if prev.State == cur.State {
		return LifecycleEvent{}, false
	}
	switch cur.State {
	case StateAssigned:
		ev.Type = EventAssigned
	case StateCallOpen:
		ev.Type = EventCallSold
	case StateClosed:
		ev.Type = EventClosed
	case StatePutOpen:
		// Cycle restarted after a close.
		ev.Type = EventPutOpened
	default:
		return LifecycleEvent{}, false
	}
	return ev, true
}

// checkStrikeInvariants audits the concurrent-strike limits. The ledger
// reports broker truth, so a violation is surfaced, not silently repaired;
// the scanner refuses new entries that would widen it.
func (l *Ledger) checkStrikeInvariants(pos *WheelPosition) {
	for side, legs := range map[string][]Leg{"put": pos.Puts, "call": pos.Calls} {
		if len(legs) > l.maxStrikesPerSide {
			observ.IncCounter("ledger_strike_limit_violations_total", map[string]string{"symbol": pos.Symbol, "side": side})
		}
		for i := 1; i < len(legs); i++ {
			if legs[i].Strike.Sub(legs[i-1].Strike).LessThan(l.minStrikeSep) {
				observ.IncCounter("ledger_strike_separation_violations_total", map[string]string{"symbol": pos.Symbol, "side": side})
			}
		}
	}
}

func sortLegs(legs []Leg) {
	sort.Slice(legs, func(i, j int) bool { return legs[i].Strike.LessThan(legs[j].Strike) })
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
