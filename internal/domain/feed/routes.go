package feed

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns feed routes, mounted under /ws
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/admin", h.ServeWS)
	return r
}
