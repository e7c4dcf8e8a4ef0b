package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.ExecuteTask)
		r.Post("/tasks/batch", h.ExecuteBatch)

		// Quota
		r.Get("/quota", h.GetQuota)
		r.Get("/quota/warnings", h.GetQuotaWarnings)

		// Chains and handoffs
		r.Get("/chains/{id}", h.GetChain)
		r.Post("/handoffs", h.CreateHandoff)
	})
}
