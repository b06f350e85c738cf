package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/pkg/types"
)

// StatusResponse is the payload of GET /api/status.
type StatusResponse struct {
	Running         bool           `json:"running"`
	State           string         `json:"state"`
	FeatureID       string         `json:"feature_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Attempt         int            `json:"attempt,omitempty"`
	ContextUsagePct float64        `json:"context_usage_pct,omitempty"`
	Counts          BacklogCounts  `json:"counts"`
	DroppedEvents   uint64         `json:"dropped_events"`
}

// getHealthz is a liveness probe: it never inspects scheduler state, only
// that the telemetry process itself can answer.
func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.get()

	b, err := s.backlog.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Running:         st.State == "running",
		State:           st.State,
		FeatureID:       st.FeatureID,
		SessionID:       st.SessionID,
		Attempt:         st.Attempt,
		ContextUsagePct: st.ContextUsagePct,
		Counts:          countBacklog(b),
		DroppedEvents:   droppedTotal(),
	})
}

// BacklogCounts summarizes feature status counts for the dashboard header.
type BacklogCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Completed  int `json:"completed"`
}

func countBacklog(b *types.Backlog) BacklogCounts {
	var c BacklogCounts
	for _, f := range b.Features {
		switch f.Status {
		case types.StatusPending:
			c.Pending++
		case types.StatusInProgress:
			c.InProgress++
		case types.StatusBlocked:
			c.Blocked++
		case types.StatusCompleted:
			c.Completed++
		}
	}
	return c
}

// BacklogResponse is the payload of GET /api/backlog.
type BacklogResponse struct {
	Backlog *types.Backlog `json:"backlog"`
	Counts  BacklogCounts  `json:"counts"`
}

func (s *Server) getBacklog(w http.ResponseWriter, r *http.Request) {
	b, err := s.backlog.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BacklogResponse{Backlog: b, Counts: countBacklog(b)})
}

func (s *Server) getFeature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.backlog.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	for i := range b.Features {
		if b.Features[i].ID == id {
			writeJSON(w, http.StatusOK, b.Features[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, ErrCodeNotFound, "feature not found")
}

// SessionsResponse is the paginated payload of GET /api/sessions.
type SessionsResponse struct {
	Sessions []sessionlog.IndexEntry `json:"sessions"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	Total    int                     `json:"total"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	q := r.URL.Query()
	if featureID := q.Get("feature_id"); featureID != "" {
		all = filterByFeature(all, featureID)
	}
	if outcome := q.Get("outcome"); outcome != "" {
		all = filterByOutcome(all, types.SessionOutcome(outcome))
	}

	page := queryInt(q, "page", 1)
	pageSize := queryInt(q, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	total := len(all)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, SessionsResponse{
		Sessions: all[start:end],
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	})
}

func filterByFeature(all []sessionlog.IndexEntry, featureID string) []sessionlog.IndexEntry {
	out := all[:0:0]
	for _, e := range all {
		if e.FeatureID == featureID {
			out = append(out, e)
		}
	}
	return out
}

func filterByOutcome(all []sessionlog.IndexEntry, outcome types.SessionOutcome) []sessionlog.IndexEntry {
	out := all[:0:0]
	for _, e := range all {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

func queryInt(q url.Values, key string, fallback int) int {
	v := q.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	all, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	for _, e := range all {
		if e.ID == id {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lines := queryInt(q, "lines", 100)
	offset := queryInt(q, "offset", 0)

	text, err := s.progress.Tail(lines + offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"progress": applyOffset(text, offset, lines)})
}

// applyOffset re-slices a Tail(lines+offset) result down to the requested
// window; progress.Log only exposes tail-from-the-end, so offset paging is
// computed here rather than adding an offset parameter to that package. The
// newest `offset` lines of the fetched window are dropped.
func applyOffset(text string, offset, lines int) string {
	if offset <= 0 || text == "" {
		return text
	}
	split := strings.Split(text, "\n")
	if offset >= len(split) {
		return ""
	}
	return strings.Join(split[:len(split)-offset], "\n")
}

func (s *Server) getProgressFull(w http.ResponseWriter, r *http.Request) {
	text, err := s.progress.Tail(-1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"progress": text})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	includeDismissed := r.URL.Query().Get("include_dismissed") == "true"
	list, err := s.alerts.List(r.Context(), includeDismissed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	unread, err := s.alerts.UnreadCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "unread_count": unread})
}

func (s *Server) getUnreadAlertCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.alerts.UnreadCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.alerts.MarkRead(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) markAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkAllRead(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

func (s *Server) dismissAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.alerts.Dismiss(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}
