package telemetry

import (
	"net/http"

	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/pkg/types"
)

// Confidence ranks how much a projection should be trusted, based on how
// many completed features it's derived from.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ProjectionsResponse is the payload of GET /api/projections.
type ProjectionsResponse struct {
	AvgCostPerFeature   float64    `json:"avg_cost_per_feature"`
	RemainingFeatures   int        `json:"remaining_features"`
	ProjectedRemaining  Projection `json:"projected_remaining"`
	DailyBurnRateUSD    float64    `json:"daily_burn_rate_usd"`
	Confidence          Confidence `json:"confidence"`
}

// Projection is a low/mid/high cost estimate.
type Projection struct {
	LowUSD  float64 `json:"low_usd"`
	MidUSD  float64 `json:"mid_usd"`
	HighUSD float64 `json:"high_usd"`
}

func (s *Server) getProjections(w http.ResponseWriter, r *http.Request) {
	b, err := s.backlog.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	sessions, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, computeProjections(b, sessions))
}

// computeProjections derives a per-feature average cost from completed
// features' sessions and extrapolates it across the remaining backlog,
// with the spread between low/high widening as fewer completed features
// back the estimate.
func computeProjections(b *types.Backlog, sessions []sessionlog.IndexEntry) ProjectionsResponse {
	costByFeature := make(map[string]float64)
	for _, s := range sessions {
		costByFeature[s.FeatureID] += s.Usage.EstimatedCostUSD
	}

	var completedCosts []float64
	remaining := 0
	for _, f := range b.Features {
		switch f.Status {
		case types.StatusCompleted:
			completedCosts = append(completedCosts, costByFeature[f.ID])
		case types.StatusPending, types.StatusInProgress:
			remaining++
		}
	}

	if len(completedCosts) == 0 {
		return ProjectionsResponse{RemainingFeatures: remaining, Confidence: ConfidenceLow}
	}

	var sum float64
	for _, c := range completedCosts {
		sum += c
	}
	avg := sum / float64(len(completedCosts))

	confidence := ConfidenceLow
	spread := 0.6
	switch {
	case len(completedCosts) >= 10:
		confidence = ConfidenceHigh
		spread = 0.15
	case len(completedCosts) >= 3:
		confidence = ConfidenceMedium
		spread = 0.35
	}

	mid := avg * float64(remaining)
	return ProjectionsResponse{
		AvgCostPerFeature:  avg,
		RemainingFeatures:  remaining,
		ProjectedRemaining: Projection{LowUSD: mid * (1 - spread), MidUSD: mid, HighUSD: mid * (1 + spread)},
		DailyBurnRateUSD:   dailyBurnRate(sessions),
		Confidence:         confidence,
	}
}

// dailyBurnRate averages estimated cost per calendar day across the
// sessions present, using each session's started_at day bucket.
func dailyBurnRate(sessions []sessionlog.IndexEntry) float64 {
	if len(sessions) == 0 {
		return 0
	}
	days := make(map[int64]bool)
	var total float64
	for _, s := range sessions {
		total += s.Usage.EstimatedCostUSD
		days[s.StartedAt/86400] = true
	}
	if len(days) == 0 {
		return 0
	}
	return total / float64(len(days))
}
