package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wheelops/wheel-engine/internal/observ"
)

// ErrDataStale marks a snapshot older than the staleness SLA. Connectivity
// loss is reported as the same condition at this boundary; retries live in
// the transport underneath the Feed implementation.
var ErrDataStale = errors.New("market data stale")

// Feed is the market & position feed collaborator. Implementations own
// sessions, transport, and retries; the engine only sees these calls.
type Feed interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	PutChain(ctx context.Context, symbol string) ([]OptionQuote, error)
	VolMetrics(ctx context.Context, symbol string) (VolMetrics, error)
	Positions(ctx context.Context) ([]RawPosition, error)
	Account(ctx context.Context) (AccountSummary, error)
	Market(ctx context.Context) (MarketContext, error)
}

// Gatherer assembles one Snapshot per cycle. Per-symbol lookups fan out
// through a bounded worker pool and join before the snapshot is handed to
// anyone; a failure in the account, position, or market sections aborts the
// whole gather so no component ever sees a partially-populated snapshot.
type Gatherer struct {
	feed        Feed
	concurrency int
	now         func() time.Time
}

func NewGatherer(f Feed, concurrency int, now func() time.Time) *Gatherer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if now == nil {
		now = time.Now
	}
	return &Gatherer{feed: f, concurrency: concurrency, now: now}
}

type symbolData struct {
	symbol string
	quote  Quote
	chain  []OptionQuote
	vol    VolMetrics
	err    error
}

// Gather fetches all sections and joins at a barrier. Missing data for a
// single watchlist symbol drops that symbol with a counter; missing account,
// position, or market data fails the cycle.
func (g *Gatherer) Gather(ctx context.Context, watchlist []string) (*Snapshot, error) {
	started := g.now()

	positions, err := g.feed.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	account, err := g.feed.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	market, err := g.feed.Market(ctx)
	if err != nil {
		return nil, fmt.Errorf("market: %w", err)
	}

	// Quote every watchlist symbol plus every symbol we hold.
	want := map[string]bool{}
	for _, s := range watchlist {
		want[s] = true
	}
	for _, p := range positions {
		want[p.Symbol] = true
	}
	symbols := make([]string, 0, len(want))
	for s := range want {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	results := make([]symbolData, len(symbols))
	sem := make(chan struct{}, g.concurrency)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = g.fetchSymbol(ctx, sym)
		}(i, sym)
	}
	wg.Wait() // join barrier: nothing below runs on partial data

	snap := &Snapshot{
		TakenAt:   started,
		Account:   account,
		Positions: positions,
		Quotes:    map[string]Quote{},
		Chains:    map[string][]OptionQuote{},
		Vol:       map[string]VolMetrics{},
		Market:    market,
	}
	for _, r := range results {
		if r.err != nil {
			observ.IncCounter("feed_symbol_errors_total", map[string]string{"symbol": r.symbol})
			continue
		}
		snap.Quotes[r.symbol] = r.quote
		snap.Chains[r.symbol] = r.chain
		snap.Vol[r.symbol] = r.vol
	}
	observ.ObserveDuration("feed_gather", g.now().Sub(started), nil)
	observ.SetGauge("feed_symbols_gathered", float64(len(snap.Quotes)), nil)
	return snap, nil
}

func (g *Gatherer) fetchSymbol(ctx context.Context, sym string) symbolData {
	d := symbolData{symbol: sym}
	d.quote, d.err = g.feed.Quote(ctx, sym)
	if d.err != nil {
		return d
	}
	// Chain and vol are optional for held-only symbols; a failed lookup
	// leaves them empty rather than failing the symbol.
	if chain, err := g.feed.PutChain(ctx, sym); err == nil {
		d.chain = chain
	}
	if vol, err := g.feed.VolMetrics(ctx, sym); err == nil {
		d.vol = vol
	}
	return d
}
