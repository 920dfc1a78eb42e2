package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-organizer/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.config, s.manager, s.detector)
	embeddingsHandler := handlers.NewEmbeddingsHandler(s.manager, s.logger)
	organizeHandler := handlers.NewOrganizeHandler(s.config, s.manager, s.logger)
	identifyHandler := handlers.NewIdentifyHandler(s.manager, s.detector, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		// Reference identities
		r.Get("/embeddings", embeddingsHandler.List)
		r.Post("/embeddings", embeddingsHandler.Load)

		// Organize (long-running job)
		r.Post("/organize", organizeHandler.Start)
		r.Get("/organize/progress", organizeHandler.Progress)
		r.Get("/organize/results", organizeHandler.Results)
		r.Post("/organize/cancel", organizeHandler.Cancel)
		r.Get("/organize/events", organizeHandler.Events)

		// Images
		r.Get("/image", handlers.ServeImage)
		r.Post("/identify", identifyHandler.Identify)
	})
}
