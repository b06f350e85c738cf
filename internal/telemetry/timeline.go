package telemetry

import (
	"net/http"
	"sort"

	"github.com/adaharness/ada/internal/sessionlog"
)

// TimelineFeature is one Gantt row: a feature plus its session segments,
// ordered by start time.
type TimelineFeature struct {
	FeatureID string             `json:"feature_id"`
	StartedAt int64              `json:"started_at"`
	EndedAt   int64              `json:"ended_at,omitempty"`
	Segments  []TimelineSegment  `json:"segments"`
}

// TimelineSegment is one session's span within a feature's row.
type TimelineSegment struct {
	SessionID string `json:"session_id"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

func (s *Server) getTimeline(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": buildTimeline(sessions)})
}

func buildTimeline(sessions []sessionlog.IndexEntry) []TimelineFeature {
	byFeature := make(map[string]*TimelineFeature)
	var order []string

	for _, e := range sessions {
		tf, ok := byFeature[e.FeatureID]
		if !ok {
			tf = &TimelineFeature{FeatureID: e.FeatureID, StartedAt: e.StartedAt}
			byFeature[e.FeatureID] = tf
			order = append(order, e.FeatureID)
		}
		if e.StartedAt < tf.StartedAt || tf.StartedAt == 0 {
			tf.StartedAt = e.StartedAt
		}
		if e.EndedAt > tf.EndedAt {
			tf.EndedAt = e.EndedAt
		}
		tf.Segments = append(tf.Segments, TimelineSegment{
			SessionID: e.ID, StartedAt: e.StartedAt, EndedAt: e.EndedAt, Outcome: string(e.Outcome),
		})
	}

	out := make([]TimelineFeature, 0, len(order))
	for _, id := range order {
		tf := byFeature[id]
		sort.Slice(tf.Segments, func(i, j int) bool { return tf.Segments[i].StartedAt < tf.Segments[j].StartedAt })
		out = append(out, *tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out
}
