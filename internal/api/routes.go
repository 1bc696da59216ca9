package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/pkg/httputil"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all routes. Webhooks and health are public; the
// /api group requires the configured API key when one is set.
func SetupRoutes(h *Handlers, health *HealthChecker, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}

	r.Post("/webhooks/smartlead", h.SmartleadWebhook)

	r.Route("/api", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(requireAPIKey(cfg.APIKey))
		}

		r.Route("/threads/{threadID}", func(r chi.Router) {
			r.Get("/", h.GetThread)
			r.Post("/sequence", h.StartSequence)
			r.Get("/schedule", h.GetThreadSchedule)
			r.Delete("/schedule", h.DeleteThreadSchedule)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/failed", h.ListFailedEntries)
			r.Get("/{entryID}", h.GetEntry)
			r.Post("/{entryID}/reschedule", h.RescheduleEntry)
			r.Post("/{entryID}/generate", h.GenerateEntry)
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Delete("/{email}", h.RemoveSuppression)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/failed", h.ListFailedWebhooks)
			r.Get("/{recordID}", h.GetWebhookRecord)
			r.Post("/backfill", h.BackfillWebhooks)
		})
	})

	return r
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
