package moderation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns public report routes, mounted under /api/reports
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.With(authMiddleware).Post("/", h.Create)

	return r
}

// AdminRoutes returns admin report routes, mounted under /api/admin/reports
func (h *Handler) AdminRoutes(authMiddleware, adminMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(authMiddleware)
	r.Use(adminMiddleware)

	r.Get("/", h.AdminList)
	r.Delete("/", h.Cleanup)
	r.Post("/recalculate-trust", h.RecalculateTrust)
	r.Post("/detector/test", h.TestDetector)

	r.Get("/{id}/diagnostic", h.Diagnostic)
	r.Patch("/{id}/approve", h.Approve)
	r.Patch("/{id}/reject", h.Reject)
	r.Post("/{id}/reprocess", h.Reprocess)

	return r
}
