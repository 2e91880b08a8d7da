package decisions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, maxPerDay int, now func() time.Time) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	l, err := Open(path, time.UTC, maxPerDay, now)
	require.NoError(t, err)
	return l
}

func decisionFor(sym, rule string) Decision {
	return Decision{
		ID:        "2026-03-18:" + rule + ":" + sym,
		Timestamp: time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC),
		Symbol:    sym,
		Action:    ActionEnter,
		Priority:  PriorityInfo,
		Rationale: "test decision",
	}
}

func TestQuotaThreePerDay(t *testing.T) {
	frozen := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 3, func() time.Time { return frozen })

	for i, sym := range []string{"AAPL", "MSFT", "JPM"} {
		res, err := l.Record(decisionFor(sym, "enter"))
		require.NoError(t, err)
		assert.Equal(t, ResultAccepted, res, "execution %d", i+1)
	}
	assert.Equal(t, 3, l.UsedToday())
	assert.Equal(t, 0, l.RemainingToday())

	res, err := l.Record(decisionFor("XOM", "enter"))
	require.NoError(t, err)
	assert.Equal(t, ResultQuotaExceeded, res, "fourth execution must be refused")
	assert.Equal(t, 3, l.UsedToday(), "refused execution must not consume quota")
}

func TestQuotaAppliesToCriticalToo(t *testing.T) {
	frozen := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 1, func() time.Time { return frozen })

	res, err := l.Record(decisionFor("AAPL", "enter"))
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, res)

	critical := decisionFor("MSFT", "defensive_roll")
	critical.Priority = PriorityCritical
	critical.Action = ActionRoll
	res, err = l.Record(critical)
	require.NoError(t, err)
	assert.Equal(t, ResultQuotaExceeded, res, "priority does not bypass the quota")
}

func TestQuotaResetsAtLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:50 local on the 18th.
	current := time.Date(2026, 3, 18, 23, 50, 0, 0, loc)
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	l, err := Open(path, loc, 1, func() time.Time { return current })
	require.NoError(t, err)

	res, err := l.Record(decisionFor("AAPL", "enter"))
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, res)
	require.Equal(t, 0, l.RemainingToday())

	// Quota is full again once the local day rolls.
	current = current.Add(20 * time.Minute)
	assert.Equal(t, 0, l.UsedToday())
	res, err = l.Record(decisionFor("MSFT", "enter"))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	frozen := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	now := func() time.Time { return frozen }
	path := filepath.Join(t.TempDir(), "decisions.jsonl")

	l, err := Open(path, time.UTC, 3, now)
	require.NoError(t, err)
	_, err = l.Record(decisionFor("AAPL", "enter"))
	require.NoError(t, err)
	_, err = l.Record(decisionFor("MSFT", "enter"))
	require.NoError(t, err)

	reopened, err := Open(path, time.UTC, 3, now)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.UsedToday())
	assert.Equal(t, 1, reopened.RemainingToday())

	recs := reopened.Today()
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Decision.Executed)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

func TestPriorityOrdering(t *testing.T) {
	assert.True(t, PriorityCritical.Less(PriorityImportant))
	assert.True(t, PriorityImportant.Less(PriorityInfo))
	assert.False(t, PriorityInfo.Less(PriorityCritical))
}

func TestRecentHistory(t *testing.T) {
	frozen := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 10, func() time.Time { return frozen })

	for _, sym := range []string{"AAPL", "MSFT", "JPM", "XOM"} {
		_, err := l.Record(decisionFor(sym, "enter"))
		require.NoError(t, err)
	}
	recent := l.RecentHistory(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "XOM", recent[0].Decision.Symbol)
	assert.Equal(t, "JPM", recent[1].Decision.Symbol)
}
