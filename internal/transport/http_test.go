package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/engine"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

type fakeEngine struct {
	quota        int
	executedID   string
	executeRes   decisions.Result
	executeErr   error
	tradeResults []bool
}

func (f *fakeEngine) GetPortfolioMetrics() engine.PortfolioMetrics {
	return engine.PortfolioMetrics{Regime: engine.RegimeNeutral, OpenPositions: 2}
}

func (f *fakeEngine) GetWheelPositions() []wheel.WheelPosition { return nil }

func (f *fakeEngine) GetOpportunities(all bool) []scanner.Candidate {
	out := []scanner.Candidate{{Symbol: "MSFT", MeetsCriteria: true}}
	if all {
		out = append(out, scanner.Candidate{Symbol: "XOM", Issues: []string{"iv rank below floor"}})
	}
	return out
}

func (f *fakeEngine) GetRiskState() risk.State {
	return risk.State{SizeMultiplier: 0.5, ActiveProtection: risk.ProtectionCircuitBreaker}
}

func (f *fakeEngine) GetDecisions() []decisions.Decision       { return nil }
func (f *fakeEngine) GetDecisionsToday() []decisions.Record    { return nil }
func (f *fakeEngine) GetQuotaRemaining() int                   { return f.quota }
func (f *fakeEngine) GetSectorAllocations() []scanner.SectorAllocation { return nil }

func (f *fakeEngine) GetDecisionBreakdown() map[string]map[string]int {
	return map[string]map[string]int{"important": {"roll": 1}}
}

func (f *fakeEngine) RecordDecisionExecuted(decisionID, outcome string) (decisions.Result, error) {
	f.executedID = decisionID
	return f.executeRes, f.executeErr
}

func (f *fakeEngine) RecordTradeResult(profitable bool) risk.State {
	f.tradeResults = append(f.tradeResults, profitable)
	return risk.State{SizeMultiplier: 1.0}
}

func newTestServer(f *fakeEngine) (*httptest.Server, chan struct{}) {
	refresh := make(chan struct{}, 1)
	return httptest.NewServer(NewServer(f, refresh).Routes()), refresh
}

func TestOpportunitiesAllFlag(t *testing.T) {
	srv, _ := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/opportunities")
	require.NoError(t, err)
	var filtered []scanner.Candidate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&filtered))
	resp.Body.Close()
	assert.Len(t, filtered, 1)

	resp, err = http.Get(srv.URL + "/api/opportunities?all=true")
	require.NoError(t, err)
	var all []scanner.Candidate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	resp.Body.Close()
	assert.Len(t, all, 2)
}

func TestDecisionsTodayEnvelope(t *testing.T) {
	srv, _ := newTestServer(&fakeEngine{quota: 2})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/decisions/today")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		QuotaRemaining int                       `json:"quota_remaining"`
		Breakdown      map[string]map[string]int `json:"breakdown"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.QuotaRemaining)
	assert.Equal(t, 1, body.Breakdown["important"]["roll"])
}

func TestExecutedStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		res        decisions.Result
		err        error
		wantStatus int
	}{
		{"accepted", `{"decision_id":"2026-03-18:time_roll:MSFT:470","outcome":"filled"}`, decisions.ResultAccepted, nil, http.StatusOK},
		{"quota_exceeded", `{"decision_id":"2026-03-18:time_roll:MSFT:470"}`, decisions.ResultQuotaExceeded, nil, http.StatusConflict},
		{"unknown_decision", `{"decision_id":"nope"}`, "", errors.New("decision not found"), http.StatusNotFound},
		{"missing_id", `{}`, "", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fe := &fakeEngine{executeRes: tc.res, executeErr: tc.err}
			srv, _ := newTestServer(fe)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/decisions/executed", "application/json", bytes.NewBufferString(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}

func TestRefreshCoalesces(t *testing.T) {
	srv, refresh := newTestServer(&fakeEngine{})
	defer srv.Close()

	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	// Three requests against a buffer of one leave exactly one pending signal.
	assert.Len(t, refresh, 1)
}

func TestTradeResultRecords(t *testing.T) {
	fe := &fakeEngine{}
	srv, _ := newTestServer(fe)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/trade-result", "application/json", bytes.NewBufferString(`{"profitable":false}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, fe.tradeResults, 1)
	assert.False(t, fe.tradeResults[0])
}

func TestMethodGuards(t *testing.T) {
	srv, _ := newTestServer(&fakeEngine{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/portfolio", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
