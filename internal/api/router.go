package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/api/handlers"
	"github.com/Cheertaboi/meal-reservation-service/internal/api/middleware"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

// NewRouter builds the HTTP router for the reservation service
func NewRouter(allocator *service.Allocator, catalog *service.Catalog, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	reservations := handlers.NewReservationHandler(allocator)
	options := handlers.NewOptionHandler(catalog)

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)

		r.Route("/options/{optionID}", func(r chi.Router) {
			r.Get("/", options.Get)
			r.Post("/reservations", reservations.Reserve)
			r.Post("/guest-reservations", reservations.ReserveGuest)
		})
		r.Get("/menus/{menuID}/options", options.ListForMenu)
		r.Patch("/reservations/{reservationID}", reservations.Modify)
		r.Post("/reservations/{reservationID}/cancel", reservations.Cancel)
		r.Get("/users/{userID}/reservations", reservations.ListForOwner)

		// Admin endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/menus/{menuID}/options", options.Publish)
			r.Patch("/options/{optionID}", options.Edit)
			r.Post("/options/{optionID}/deactivate", options.Deactivate)
			r.Delete("/options/{optionID}", options.Remove)
			r.Get("/counters/drift", options.Drift)
		})
	})

	return r
}
