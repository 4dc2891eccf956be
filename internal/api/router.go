/**
 * @description
 * HTTP router setup using go-chi/chi.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the settings the routes depend on.
type RouterConfig struct {
	InternalAPIKey    string
	TwilioAuthToken   string
	ValidateSignature bool
	PublicWebhookURL  string
	Metrics           http.Handler
}

// NewRouter creates a new Chi router and registers the webhook and internal routes.
func NewRouter(h *Handler, cfg RouterConfig, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ambassador payout service is healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.ValidateSignature && cfg.TwilioAuthToken != "" {
			r.Use(TwilioSignatureMiddleware(cfg.TwilioAuthToken, cfg.PublicWebhookURL, logger))
		}
		r.Post("/sms/inbound", h.handleInboundSMS)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/payouts/run", h.handleRunPayouts)
		r.Get("/queue", h.handleQueueStatus)
		r.Post("/ambassadors/{id}/primary-account/{accountID}", h.handleSetPrimaryAccount)
	})

	return r
}
