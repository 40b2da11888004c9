package httpapi

import (
	"net/http"

	"workout-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MakeHandler registers every engine route under /api/v1 plus /metrics
func MakeHandler(svc service.Service, logger *zap.Logger) http.Handler {
	h := NewHandler(svc, logger)

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Post("/reset", h.ResetSession)
			r.Get("/current", h.CurrentSession)
			r.Get("/current/metrics", h.Leaderboard)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/end", h.EndSession)
				r.Get("/assignments", h.SessionAssignments)
				r.Get("/results", h.SessionResults)
				r.Get("/results.xlsx", h.ExportResults)
			})
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", h.ListDevices)
			r.Post("/", h.UpsertDevice)
			r.Post("/sync", h.SyncDevices)
			r.Put("/{deviceID}/connection", h.SetDeviceConnection)
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.Assign)
			r.Delete("/{assignmentID}", h.Unassign)
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
