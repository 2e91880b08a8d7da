// Replay runs one evaluation cycle over a fixture snapshot and prints the
// ranked advisory output. Nothing persists: risk state and the decision
// ledger live in a throwaway temp dir, so a fixture can be replayed
// repeatedly while tuning thresholds.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/wheelops/wheel-engine/internal/alerts"
	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/engine"
	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

func main() {
	var cfgPath string
	var fixturePath string
	var asOf string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&fixturePath, "fixture", "", "snapshot fixture (overrides config feed fixture)")
	flag.StringVar(&asOf, "as-of", "", "evaluation time, RFC3339 (default: now)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if fixturePath != "" {
		cfg.Feed.FixturePath = fixturePath
	}

	now := time.Now
	if asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			log.Fatalf("parse -as-of: %v", err)
		}
		now = func() time.Time { return t }
	}

	tmp, err := os.MkdirTemp("", "wheel-replay")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(tmp)
	cfg.Risk.StatePath = filepath.Join(tmp, "risk_state.json")
	cfg.Decisions.Path = filepath.Join(tmp, "decisions.jsonl")

	sim, err := feed.NewSimFeed(cfg.Feed.FixturePath, now)
	if err != nil {
		log.Fatalf("load fixture: %v", err)
	}
	rd, err := refdata.NewStatic(cfg.RefDataPath, now)
	if err != nil {
		log.Fatalf("load refdata: %v", err)
	}
	ledger, err := decisions.Open(cfg.Decisions.Path, cfg.Location, cfg.Decisions.MaxPerDay, now)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}

	eng := engine.New(&cfg, engine.Deps{
		Gatherer: feed.NewGatherer(sim, cfg.Feed.Concurrency, now),
		Wheels:   wheel.NewLedger(cfg.Wheel.MaxStrikesPerSymbol, cfg.Wheel.MinStrikeSeparation),
		Governor: risk.NewGovernor(cfg.Risk),
		Scorer:   scanner.NewScorer(cfg.Scanner, cfg.Wheel, rd, nil),
		Ledger:   ledger,
		RefData:  rd,
		Notifier: alerts.Console{},
		Now:      now,
	})

	if err := eng.RunCycle(context.Background()); err != nil {
		log.Fatalf("cycle: %v", err)
	}

	pub := eng.Published()
	out := map[string]any{
		"trading_day": pub.TradingDay,
		"metrics":     pub.Metrics,
		"risk":        pub.Risk,
		"positions":   pub.Positions,
		"decisions":   pub.Decisions,
		"allocations": pub.Allocations,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Fprintf(os.Stderr, "replayed %s: %d positions, %d candidates, %d decisions\n",
		pub.TradingDay, len(pub.Positions), len(pub.Candidates), len(pub.Decisions))
}
