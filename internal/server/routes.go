package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Post("/abort", s.abortSession)
		})
	})

	// Analysis run routes. Level ingest and outcome are how the analysis
	// workers drive the progress channel.
	r.Route("/run", func(r chi.Router) {
		r.Post("/", s.createRun)

		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/level/{level}", s.ingestLevelStatus)
			r.Post("/outcome", s.ingestOutcome)
			r.Post("/suggestion", s.addSuggestion)
			r.Get("/suggestion", s.getSuggestions)
		})
	})

	// Event streaming (SSE), one endpoint per push concern.
	r.Get("/event/chat", s.chatEvents)
	r.Get("/event/analysis", s.analysisEvents)
}
