package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/merchant-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса учёта долгов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/admin/login", h.Login)
		r.Post("/admin/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/admin/password", h.ChangeAdminPIN)

			r.Get("/dashboard", h.Dashboard)

			r.Post("/customers", h.CreateCustomer)
			r.Get("/customers/{id}", h.GetCustomer)
			r.Put("/customers/{id}", h.UpdateCustomer)
			r.Delete("/customers/{id}", h.DeleteCustomer)
			r.Post("/customers/{id}/transactions", h.RecordTransaction)

			r.Get("/backup", h.DownloadBackup)
			r.Post("/backup", h.RestoreBackup)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.SaveSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
