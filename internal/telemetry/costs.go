package telemetry

import (
	"net/http"
	"time"

	"github.com/adaharness/ada/internal/event"
	"github.com/adaharness/ada/internal/sessionlog"
)

func droppedTotal() uint64 { return event.DroppedTotal() }

// ModelCost is the aggregated token/cost figures for one model.
type ModelCost struct {
	Model            string  `json:"model"`
	Sessions         int     `json:"sessions"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// CostsResponse is the payload of GET /api/sessions/costs.
type CostsResponse struct {
	ByModel          []ModelCost `json:"by_model"`
	TotalSessions    int         `json:"total_sessions"`
	InputTokens      int64       `json:"input_tokens"`
	OutputTokens     int64       `json:"output_tokens"`
	CacheReadTokens  int64       `json:"cache_read_tokens"`
	CacheWriteTokens int64       `json:"cache_write_tokens"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
}

func (s *Server) getSessionCosts(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if days := queryInt(r.URL.Query(), "days", 0); days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days).Unix()
		all = filterSince(all, cutoff)
	}

	writeJSON(w, http.StatusOK, aggregateCosts(all))
}

func filterSince(all []sessionlog.IndexEntry, cutoff int64) []sessionlog.IndexEntry {
	out := all[:0:0]
	for _, e := range all {
		if e.StartedAt >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// aggregateCosts sums token/cost figures across sessions, broken out by
// model; per-model sums equal the inputs and the overall total equals the
// sum of per-session values.
func aggregateCosts(all []sessionlog.IndexEntry) CostsResponse {
	byModel := make(map[string]*ModelCost)
	var resp CostsResponse

	for _, e := range all {
		model := e.Model
		if model == "" {
			model = "unknown"
		}
		mc, ok := byModel[model]
		if !ok {
			mc = &ModelCost{Model: model}
			byModel[model] = mc
		}
		mc.Sessions++
		mc.InputTokens += e.Usage.InputTokens
		mc.OutputTokens += e.Usage.OutputTokens
		mc.CacheReadTokens += e.Usage.CacheReadTokens
		mc.CacheWriteTokens += e.Usage.CacheWriteTokens
		mc.EstimatedCostUSD += e.Usage.EstimatedCostUSD

		resp.TotalSessions++
		resp.InputTokens += e.Usage.InputTokens
		resp.OutputTokens += e.Usage.OutputTokens
		resp.CacheReadTokens += e.Usage.CacheReadTokens
		resp.CacheWriteTokens += e.Usage.CacheWriteTokens
		resp.EstimatedCostUSD += e.Usage.EstimatedCostUSD
	}

	for _, mc := range byModel {
		resp.ByModel = append(resp.ByModel, *mc)
	}
	return resp
}
