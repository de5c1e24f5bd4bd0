package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	// RenderRatePerMinute limits batch starts per client.
	RenderRatePerMinute int

	Logger logrus.FieldLogger
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check, public
	r.Get("/health", h.Health)

	renderLimit := RateLimit(cfg.RenderRatePerMinute, cfg.RenderRatePerMinute)

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Route("/scenes/{sceneId}/render-queue", func(r chi.Router) {
			r.Get("/", h.GetRenderQueue)
			r.With(renderLimit).Post("/process", h.ProcessQueue)
			r.Post("/cancel", h.CancelRendering)
			r.Post("/reset", h.ResetQueue)

			r.Route("/items/{segmentId}", func(r chi.Router) {
				r.Get("/", h.GetQueueItem)
				r.Put("/config", h.UpdateItemConfig)
				r.Post("/approve", h.ApproveItem)
				r.Get("/assets", h.ListItemAssets)
			})
		})
	})

	return r
}

// allowedOrigins restricts CORS when configured, otherwise allows all (dev mode).
func allowedOrigins(csv string) []string {
	origins := []string{"*"}
	if csv == "" {
		return origins
	}
	trimmed := make([]string, 0)
	for _, o := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(o); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) > 0 {
		origins = trimmed
	}
	return origins
}
