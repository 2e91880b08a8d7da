// Package transport exposes the engine's read model over HTTP. The surface
// is advisory and read-mostly: the only writes are execution records, trade
// results, and a manual refresh trigger.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wheelops/wheel-engine/internal/decisions"
	"github.com/wheelops/wheel-engine/internal/engine"
	"github.com/wheelops/wheel-engine/internal/observ"
	"github.com/wheelops/wheel-engine/internal/risk"
	"github.com/wheelops/wheel-engine/internal/scanner"
	"github.com/wheelops/wheel-engine/internal/wheel"
)

// EngineAPI is the slice of engine behavior the HTTP layer serves.
type EngineAPI interface {
	GetPortfolioMetrics() engine.PortfolioMetrics
	GetWheelPositions() []wheel.WheelPosition
	GetOpportunities(all bool) []scanner.Candidate
	GetRiskState() risk.State
	GetDecisions() []decisions.Decision
	GetDecisionsToday() []decisions.Record
	GetDecisionBreakdown() map[string]map[string]int
	GetQuotaRemaining() int
	GetSectorAllocations() []scanner.SectorAllocation
	RecordDecisionExecuted(decisionID, outcome string) (decisions.Result, error)
	RecordTradeResult(profitable bool) risk.State
}

type Server struct {
	engine  EngineAPI
	refresh chan<- struct{}
}

func NewServer(e EngineAPI, refresh chan<- struct{}) *Server {
	return &Server{engine: e, refresh: refresh}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/opportunities", s.handleOpportunities)
	mux.HandleFunc("/api/risk", s.handleRisk)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/api/decisions/today", s.handleDecisionsToday)
	mux.HandleFunc("/api/decisions/executed", s.handleExecuted)
	mux.HandleFunc("/api/allocations", s.handleAllocations)
	mux.HandleFunc("/api/trade-result", s.handleTradeResult)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetPortfolioMetrics())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetWheelPositions())
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	all := strings.EqualFold(r.URL.Query().Get("all"), "true")
	writeJSON(w, http.StatusOK, s.engine.GetOpportunities(all))
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetRiskState())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetDecisions())
}

func (s *Server) handleDecisionsToday(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":         s.engine.GetDecisionsToday(),
		"quota_remaining": s.engine.GetQuotaRemaining(),
		"breakdown":       s.engine.GetDecisionBreakdown(),
	})
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetSectorAllocations())
}

type executedRequest struct {
	DecisionID string `json:"decision_id"`
	Outcome    string `json:"outcome"`
}

func (s *Server) handleExecuted(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req executedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DecisionID == "" {
		writeError(w, http.StatusBadRequest, "decision_id required")
		return
	}
	res, err := s.engine.RecordDecisionExecuted(req.DecisionID, req.Outcome)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	status := http.StatusOK
	if res == decisions.ResultQuotaExceeded {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"result": res})
}

type tradeResultRequest struct {
	Profitable bool `json:"profitable"`
}

func (s *Server) handleTradeResult(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req tradeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.RecordTradeResult(req.Profitable))
}

// handleRefresh requests an out-of-band evaluation cycle. Non-blocking: if a
// refresh is already pending the request coalesces into it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	select {
	case s.refresh <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.LogError("http_encode_failed", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
