package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")

	s := NewState(decimal.NewFromInt(100000), "2026-03-18")
	s.CircuitBreaker.Active = true
	s.CircuitBreaker.Reason = "drawdown_from_peak 21.0%"
	s.CircuitBreaker.ActivatedAt = time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)
	s.BlackSwan.Active = true
	s.BlackSwan.Stage = 1
	s.BlockedSectors = []string{"Technology", "Financials"}
	s.ConsecutiveWins = 6

	if err := SaveState(path, s); err != nil {
		t.Fatal(err)
	}
	got, found, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("state not found after save")
	}
	if !got.CircuitBreaker.Active || got.CircuitBreaker.Reason != s.CircuitBreaker.Reason {
		t.Fatalf("circuit breaker lost: %+v", got.CircuitBreaker)
	}
	if got.BlackSwan.Stage != 1 {
		t.Fatalf("BlackSwan.Stage = %d", got.BlackSwan.Stage)
	}
	if len(got.BlockedSectors) != 2 {
		t.Fatalf("BlockedSectors = %v", got.BlockedSectors)
	}
	if !got.PeakAccountValue.Equal(s.PeakAccountValue) {
		t.Fatalf("PeakAccountValue = %s", got.PeakAccountValue)
	}
}

func TestLoadStateMissingFileIsNotAnError(t *testing.T) {
	_, found, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("missing file reported as found")
	}
}

func TestCopyIsolatesBlockedSectors(t *testing.T) {
	s := NewState(decimal.NewFromInt(100000), "2026-03-18")
	s.BlockedSectors = []string{"Technology"}
	c := s.Copy()
	c.BlockedSectors[0] = "Energy"
	if s.BlockedSectors[0] != "Technology" {
		t.Fatal("Copy shares the BlockedSectors backing array")
	}
}
