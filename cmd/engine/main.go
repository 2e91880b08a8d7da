package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wheelops/wheel-engine/internal/alerts"
	"github.com/wheelops/wheel-engine/internal/config"
	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/engine"
	"github.com/wheelops/wheel-engine/internal/feed"
	"github.com/wheelops/wheel-engine/internal/observ"
	"github.com/wheelops/wheel-engine/internal/refdata"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/transport"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

func main() {
	var cfgPath string
	var oneShot bool
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&oneShot, "oneshot", false, "run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config.example.yaml?)", err)
	}

	// Environment overrides for containerized deployments.
	if v := os.Getenv("FEED_MODE"); v != "" {
		cfg.Feed.Mode = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.Mode = "webhook"
		cfg.Notify.WebhookURL = v
	}

	observ.Log("startup", map[string]any{
		"feed_mode":      cfg.Feed.Mode,
		"watchlist":      len(cfg.Watchlist),
		"cycle_interval": cfg.CycleIntervalSeconds,
		"quota_per_day":  cfg.Decisions.MaxPerDay,
		"timezone":       cfg.ExchangeTimezone,
	})

	eng, notifier, refreshCh, err := buildEngine(&cfg)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.RunCycle(ctx); err != nil {
		observ.LogError("initial_cycle_failed", err, nil)
	}
	if oneShot {
		return
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: transport.NewServer(eng, refreshCh).Routes(),
	}
	go func() {
		observ.Log("http_listen", map[string]any{"addr": cfg.HTTP.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sched := startWorkflows(&cfg, eng, notifier, refreshCh)
	defer sched.Stop()

	ticker := time.NewTicker(time.Duration(cfg.CycleIntervalSeconds) * time.Second)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := eng.RunCycle(ctx); err != nil {
				observ.LogError("cycle_failed", err, nil)
			}
		case <-refreshCh:
			observ.Log("manual_refresh", nil)
			if err := eng.RunCycle(ctx); err != nil {
				observ.LogError("cycle_failed", err, nil)
			}
		case s := <-sig:
			observ.Log("shutdown", map[string]any{"signal": s.String()})
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shutCtx)
			shutCancel()
			return
		}
	}
}

func buildEngine(cfg *config.Root) (*engine.Engine, alerts.Notifier, chan struct{}, error) {
	// No broker adapter is wired yet. Refuse live mode outright so an
	// operator can never mistake fixture quotes for real market data.
	if cfg.Feed.Mode == "live" {
		return nil, nil, nil, fmt.Errorf("feed mode %q has no broker adapter; run with mode sim", cfg.Feed.Mode)
	}
	sim, err := feed.NewSimFeed(cfg.Feed.FixturePath, time.Now)
	if err != nil {
		return nil, nil, nil, err
	}
	var src feed.Feed = sim
	src = feed.NewRateLimitedFeed(src, cfg.Feed.RateLimitPerSec, cfg.Feed.RateLimitBurst)
	gatherer := feed.NewGatherer(src, cfg.Feed.Concurrency, time.Now)

	rd, err := refdata.NewStatic(cfg.RefDataPath, time.Now)
	if err != nil {
		return nil, nil, nil, err
	}

	ledger, err := decisions.Open(cfg.Decisions.Path, cfg.Location, cfg.Decisions.MaxPerDay, time.Now)
	if err != nil {
		return nil, nil, nil, err
	}

	initial, seeded, err := risk.LoadState(cfg.Risk.StatePath)
	if err != nil {
		return nil, nil, nil, err
	}

	var notifier alerts.Notifier = alerts.Console{}
	if cfg.Notify.Mode == "webhook" && cfg.Notify.WebhookURL != "" {
		notifier = alerts.NewWebhook(cfg.Notify.WebhookURL)
	}

	refreshCh := make(chan struct{}, 1)
	eng := engine.New(cfg, engine.Deps{
		Gatherer:    gatherer,
		Wheels:      wheel.NewLedger(cfg.Wheel.MaxStrikesPerSymbol, cfg.Wheel.MinStrikeSeparation),
		Governor:    risk.NewGovernor(cfg.Risk),
		Scorer:      scanner.NewScorer(cfg.Scanner, cfg.Wheel, rd, nil),
		Ledger:      ledger,
		RefData:     rd,
		Notifier:    notifier,
		InitialRisk: initial,
		Seeded:      seeded,
	})
	return eng, notifier, refreshCh, nil
}

// startWorkflows registers the scheduled check-ins in exchange-local time.
// Morning pushes a portfolio briefing through the notifier, afternoon forces
// a re-evaluation, end-of-day logs the decision tally.
func startWorkflows(cfg *config.Root, eng *engine.Engine, notifier alerts.Notifier, refresh chan struct{}) *cron.Cron {
	c := cron.New(cron.WithLocation(cfg.Location))
	add := func(spec, name string, fn func()) {
		if spec == "" {
			return
		}
		if _, err := c.AddFunc(spec, fn); err != nil {
			observ.LogError("workflow_schedule_failed", err, map[string]any{"workflow": name})
		}
	}
	add(cfg.Workflow.Morning, "morning", func() {
		logSummary(eng, "morning_summary")
		if err := notifier.Send(morningBriefing(eng)); err != nil {
			observ.LogError("morning_briefing_failed", err, nil)
		}
	})
	add(cfg.Workflow.Afternoon, "afternoon", func() {
		logSummary(eng, "afternoon_checkin")
		select {
		case refresh <- struct{}{}:
		default:
		}
	})
	add(cfg.Workflow.EndOfDay, "end_of_day", func() {
		logSummary(eng, "end_of_day")
		observ.Log("decision_breakdown", map[string]any{"breakdown": eng.GetDecisionBreakdown()})
	})
	c.Start()
	return c
}

func morningBriefing(eng *engine.Engine) alerts.Alert {
	m := eng.GetPortfolioMetrics()
	rs := eng.GetRiskState()
	msg := fmt.Sprintf("NAV %s, drawdown %.1f%%, regime %s, size multiplier %.2f, quota %d left",
		m.NetLiquidation.StringFixed(0), m.DrawdownPct, m.Regime, rs.SizeMultiplier, eng.GetQuotaRemaining())
	if opps := eng.GetOpportunities(false); len(opps) > 0 {
		top := opps
		if len(top) > 3 {
			top = top[:3]
		}
		msg += "; top entries:"
		for _, c := range top {
			msg += fmt.Sprintf(" %s %s put %dd (%.1f%% ann)", c.Symbol, c.Strike.StringFixed(0), c.DTE, c.AnnualizedReturn*100)
		}
	}
	return alerts.Alert{
		Priority:  string(decisions.PriorityInfo),
		Title:     "morning briefing",
		Message:   msg,
		Timestamp: time.Now(),
	}
}

func logSummary(eng *engine.Engine, event string) {
	m := eng.GetPortfolioMetrics()
	rs := eng.GetRiskState()
	observ.Log(event, map[string]any{
		"net_liquidation":   m.NetLiquidation.StringFixed(2),
		"unrealized_pnl":    m.UnrealizedPnL.StringFixed(2),
		"drawdown_pct":      m.DrawdownPct,
		"regime":            m.Regime,
		"open_positions":    m.OpenPositions,
		"size_multiplier":   rs.SizeMultiplier,
		"active_protection": rs.ActiveProtection,
		"quota_remaining":   eng.GetQuotaRemaining(),
		"decisions_today":   len(eng.GetDecisionsToday()),
	})
}
