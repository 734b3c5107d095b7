package httpserver

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/admitly/backend/internal/config"
	"github.com/admitly/backend/internal/handlers"
	requesttracking "github.com/admitly/backend/internal/middleware"
	"github.com/admitly/backend/internal/webhook"
)

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
}

// New constructs an HTTP server using the provided configuration and storage clients.
func New(cfg config.Config, db *sql.DB, accountStore webhook.AccountStore, accountReader handlers.AccountReader, checkoutClient handlers.CheckoutClient) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Request audit middleware; skipped if the store cannot be built.
	if db != nil {
		if requestTracker, err := requesttracking.NewRequestTracker(db); err != nil {
			log.Printf("[server] request tracking disabled: %v", err)
		} else {
			router.Use(requestTracker.Middleware())
		}
	}

	router.Get("/healthz", handlers.Health)

	// Billing endpoints
	router.Get("/api/billing/subscription", handlers.GetSubscriptionState(accountReader))
	if checkoutClient != nil {
		router.Post("/api/checkout", handlers.CreateCheckout(accountReader, checkoutClient))
	}

	// Webhook endpoint
	webhookHandler := webhook.NewHandler(accountStore, cfg.StripeWebhookSecret, cfg.SignatureTolerance)
	webhookHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
