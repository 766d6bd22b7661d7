package quotation

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/quotations", h.List)
	r.Get("/quotations/summary", h.Summary)
	r.Get("/quotations/next-number", h.PreviewNumber)
	r.Post("/quotations", h.Create)
	r.Get("/quotations/{id}", h.Show)
	r.Put("/quotations/{id}", h.Update)
	r.Delete("/quotations/{id}", h.Delete)
	r.Post("/quotations/{id}/decision", h.Decide)
	r.Post("/quotations/{id}/reissue", h.Reissue)
	r.Get("/quotations/{id}/decisions", h.Decisions)
	r.Get("/quotations/{id}/versions", h.Versions)
}
