package refdata

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider supplies reference data the core must never hardcode: sector
// membership and the earnings calendar. Implementations are expected to be
// cheap to call per cycle; anything slow should cache internally.
type Provider interface {
	SectorOf(symbol string) string
	DaysToNextEarnings(symbol string) int
}

const SectorUnknown = "Unknown"

// staticFile is the on-disk shape consumed by NewStatic.
type staticFile struct {
	Sectors  map[string]string `yaml:"sectors"`  // symbol -> sector
	Earnings map[string]string `yaml:"earnings"` // symbol -> YYYY-MM-DD
}

// Static serves sector and earnings data from a YAML table, resolving
// earnings distances against an injectable clock so tests stay deterministic.
type Static struct {
	sectors  map[string]string
	earnings map[string]time.Time
	now      func() time.Time
}

func NewStatic(path string, now func() time.Time) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f staticFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	s := &Static{
		sectors:  f.Sectors,
		earnings: make(map[string]time.Time, len(f.Earnings)),
		now:      now,
	}
	if s.sectors == nil {
		s.sectors = map[string]string{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	for sym, d := range f.Earnings {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, err
		}
		s.earnings[sym] = t
	}
	return s, nil
}

func (s *Static) SectorOf(symbol string) string {
	if sec, ok := s.sectors[symbol]; ok {
		return sec
	}
	return SectorUnknown
}

// DaysToNextEarnings returns a large sentinel when no earnings date is known,
// so the earnings-buffer filter passes rather than rejecting on missing data.
func (s *Static) DaysToNextEarnings(symbol string) int {
	t, ok := s.earnings[symbol]
	if !ok {
		return 365
	}
	d := int(t.Sub(s.now()).Hours() / 24)
	if d < 0 {
		return 365
	}
	return d
}

// Fake is an in-memory Provider for tests.
type Fake struct {
	Sectors      map[string]string
	EarningsDays map[string]int
}

func (f *Fake) SectorOf(symbol string) string {
	if sec, ok := f.Sectors[symbol]; ok {
		return sec
	}
	return SectorUnknown
}

func (f *Fake) DaysToNextEarnings(symbol string) int {
	if d, ok := f.EarningsDays[symbol]; ok {
		return d
	}
	return 365
}
