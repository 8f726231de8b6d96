package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes builds the versioned API router.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(LimitBody)
	r.Use(ValidateContentType)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/processing/initiate", h.InitiateProcessing)

		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/report", h.GetSessionReport)

		r.Post("/recovery/items", h.RecoverItems)
		r.Post("/recovery/stalled", h.RecoverStalled)

		r.Get("/health", h.Health)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"code":    "not_found",
				"message": "Unknown route.",
			},
		})
	})

	return r
}
