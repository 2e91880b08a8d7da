// Package decisions is the append-only decision ledger and the single
// authority for daily execution quota arithmetic. Every producer, whether
// the scheduled cycle or a manual dashboard trigger, routes executions
// through Record; nothing else mutates the counters.
package decisions

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wheelops/wheel-engine/internal/observ"
)

// ActionType is the closed set of recommended actions.
type ActionType string

const (
	ActionEnter ActionType = "enter"
	ActionRoll  ActionType = "roll"
	ActionClose ActionType = "close"
	ActionHold  ActionType = "hold"
)

// Priority orders decisions for display and execution.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityImportant Priority = "important"
	PriorityInfo      Priority = "info"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityImportant:
		return 1
	default:
		return 2
	}
}

// Less orders priorities Critical > Important > Info.
func (p Priority) Less(other Priority) bool { return p.rank() < other.rank() }

// Decision is one recommended action. Surfaced decisions carry deterministic
// ids derived from (trading day, rule, symbol) so re-evaluating an unchanged
// snapshot reproduces them byte for byte; ledger records get their own uuid
// at execution time.
type Decision struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Symbol    string     `json:"symbol"`
	Action    ActionType `json:"action"`
	Priority  Priority   `json:"priority"`
	Rationale string     `json:"rationale"`
	Executed  bool       `json:"executed"`
	Outcome   string     `json:"outcome,omitempty"`

	// Urgency keys intra-tier ordering: |delta| for defensive actions,
	// inverse DTE for time-driven ones, score for entries.
	Urgency float64 `json:"urgency"`
}

// Record is an executed decision as persisted in the ledger.
type Record struct {
	ID         string    `json:"id"` // uuid, assigned at Record time
	DecisionID string    `json:"decision_id"`
	RecordedAt time.Time `json:"recorded_at"`
	TradingDay string    `json:"trading_day"`
	Decision   Decision  `json:"decision"`
}

// Result is the outcome of a Record call. Quota exhaustion is a normal
// suppressed-execution outcome, not an error.
type Result string

const (
	ResultAccepted      Result = "accepted"
	ResultQuotaExceeded Result = "quota_exceeded"
)

// Ledger is the append-only store plus quota counters. The mutex serializes
// concurrent producers (scheduled cycle racing a manual trigger) so the
// quota can never be over- or under-counted.
type Ledger struct {
	mu        sync.Mutex
	path      string
	loc       *time.Location
	maxPerDay int
	now       func() time.Time
	records   []Record
}

func Open(path string, loc *time.Location, maxPerDay int, now func() time.Time) (*Ledger, error) {
	if now == nil {
		now = time.Now
	}
	l := &Ledger{path: path, loc: loc, maxPerDay: maxPerDay, now: now}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			// A torn trailing line from a crash is skipped, not fatal.
			observ.LogError("decision_ledger_bad_line", err, nil)
			continue
		}
		l.records = append(l.records, r)
	}
	return sc.Err()
}

// Record appends an execution confirmation. It is the only path that
// consumes quota: decisions that are merely surfaced never touch the ledger.
func (l *Ledger) Record(d Decision) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.tradingDay()
	if l.usedOn(day) >= l.maxPerDay {
		observ.IncCounter("decision_quota_exceeded_total", map[string]string{"symbol": d.Symbol})
		observ.Log("decision_quota_exceeded", map[string]any{
			"symbol": d.Symbol, "action": string(d.Action), "decision_id": d.ID,
		})
		return ResultQuotaExceeded, nil
	}

	d.Executed = true
	rec := Record{
		ID:         uuid.New().String(),
		DecisionID: d.ID,
		RecordedAt: l.now(),
		TradingDay: day,
		Decision:   d,
	}
	if err := l.append(rec); err != nil {
		return "", err
	}
	l.records = append(l.records, rec)
	observ.IncCounter("decisions_executed_total", map[string]string{"action": string(d.Action)})
	return ResultAccepted, nil
}

func (l *Ledger) append(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// UsedToday counts executions for the current exchange-local trading day.
// The count resets implicitly at local midnight because the day key changes.
func (l *Ledger) UsedToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedOn(l.tradingDay())
}

func (l *Ledger) RemainingToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.maxPerDay - l.usedOn(l.tradingDay())
	if r < 0 {
		r = 0
	}
	return r
}

// RecentHistory returns the newest n records, newest first.
func (l *Ledger) RecentHistory(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Today returns all records for the current trading day, oldest first.
func (l *Ledger) Today() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.tradingDay()
	var out []Record
	for _, r := range l.records {
		if r.TradingDay == day {
			out = append(out, r)
		}
	}
	return out
}

// Breakdown summarizes today's executions by action and priority.
func (l *Ledger) Breakdown() map[string]map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	day := l.tradingDay()
	out := map[string]map[string]int{
		"by_action":   {},
		"by_priority": {},
	}
	for _, r := range l.records {
		if r.TradingDay != day {
			continue
		}
		out["by_action"][string(r.Decision.Action)]++
		out["by_priority"][string(r.Decision.Priority)]++
	}
	return out
}

func (l *Ledger) usedOn(day string) int {
	n := 0
	for _, r := range l.records {
		if r.TradingDay == day && r.Decision.Executed {
			n++
		}
	}
	return n
}

func (l *Ledger) tradingDay() string {
	return l.now().In(l.loc).Format("2006-01-02")
}
