package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chancechat/chance/internal/metrics"
)

// NewRouter builds the matchapi HTTP router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/matching", func(r chi.Router) {
			r.Post("/join", h.Join)
			r.Post("/leave", h.Leave)
			r.Get("/queue", h.QueueStats)
			r.Get("/status", h.MatchStatus)
		})

		r.Route("/chat/{sessionID}", func(r chi.Router) {
			r.Get("/status", h.SessionStatus)
			r.Post("/end", h.EndSession)
		})

		r.Get("/icebreakers", h.Icebreakers)
	})

	return r
}
