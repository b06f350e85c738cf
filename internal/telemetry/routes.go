package telemetry

import "github.com/go-chi/chi/v5"

// setupRoutes configures the read-only route table described in spec §6.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/api/healthz", s.getHealthz)
	r.Get("/api/status", s.getStatus)

	r.Route("/api/backlog", func(r chi.Router) {
		r.Get("/", s.getBacklog)
		r.Get("/{id}", s.getFeature)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/costs", s.getSessionCosts)
		r.Get("/{id}", s.getSession)
	})

	r.Route("/api/progress", func(r chi.Router) {
		r.Get("/", s.getProgress)
		r.Get("/full", s.getProgressFull)
	})

	r.Get("/api/projections", s.getProjections)
	r.Get("/api/timeline", s.getTimeline)

	r.Route("/api/alerts", func(r chi.Router) {
		r.Get("/", s.listAlerts)
		r.Get("/unread/count", s.getUnreadAlertCount)
		r.Post("/read-all", s.markAllAlertsRead)
		r.Post("/{id}/read", s.markAlertRead)
		r.Post("/{id}/dismiss", s.dismissAlert)
	})

	r.Get("/ws/events", s.wsEvents)
}
