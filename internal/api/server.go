package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidepoint/marketplace/internal/cache"
	"github.com/tidepoint/marketplace/internal/domain"
	"github.com/tidepoint/marketplace/internal/entity"
	"github.com/tidepoint/marketplace/internal/loyalty"
	"github.com/tidepoint/marketplace/internal/permission"
)

// Services are the components the HTTP API serves.
type Services struct {
	Repo     domain.Repository
	Bus      domain.EventBus
	Cache    *cache.EntityCache
	Catalog  *entity.Catalog
	Loyalty  *loyalty.Service
	Resolver *permission.Resolver
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc Services, version string) *Server {
	handler := NewHandler(svc, version)
	router := chi.NewRouter()
	need := func(resource, action string) func(http.Handler) http.Handler {
		return RequirePermission(svc.Resolver, domain.Permission(resource, action))
	}

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression
	router.Use(IdentityMiddleware)     // Session identity headers

	// Health endpoints (no identity required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Get("/me/permissions", handler.MyPermissions)

	// Entity catalog; permissions depend on the collection name.
	router.Route("/entities/{name}", func(r chi.Router) {
		r.Get("/", handler.ListEntities)
		r.Post("/", handler.CreateEntity)
		r.Get("/{id}", handler.GetEntity)
		r.Put("/{id}", handler.UpdateEntity)
		r.Patch("/{id}", handler.UpdateEntity)
		r.Delete("/{id}", handler.DeleteEntity)
	})

	// Entity cache administration
	router.Route("/cache", func(r chi.Router) {
		r.With(need("cache", "view")).Get("/stats", handler.CacheStats)
		r.With(need("cache", "delete")).Delete("/", handler.ClearCache)
		r.With(need("cache", "delete")).Delete("/{name}", handler.ClearCacheEntity)
	})

	// Business loyalty
	router.Route("/businesses/{businessID}", func(r chi.Router) {
		r.With(need("loyalty_rules", "view")).Get("/loyalty-rules", handler.ListLoyaltyRules)
		r.With(need("loyalty_rules", "create")).Post("/loyalty-rules", handler.CreateLoyaltyRule)
		r.With(need("loyalty_rules", "view")).Get("/loyalty-rules/{ruleID}", handler.GetLoyaltyRule)
		r.With(need("loyalty_rules", "edit")).Put("/loyalty-rules/{ruleID}", handler.UpdateLoyaltyRule)
		r.With(need("loyalty_rules", "delete")).Delete("/loyalty-rules/{ruleID}", handler.DeleteLoyaltyRule)

		r.With(need("transactions", "create")).Post("/checkout", handler.Checkout)
		r.With(need("transactions", "create")).Post("/checkin", handler.CheckIn)
		r.With(need("transactions", "create")).Post("/redeem", handler.Redeem)
		r.With(need("transactions", "create")).Post("/purchases", handler.IngestPurchase)
	})

	// Tourists
	router.Route("/tourists", func(r chi.Router) {
		r.With(need("tourists", "create")).Post("/", handler.RegisterTourist)
		r.With(need("tourists", "view")).Get("/{id}", handler.GetTourist)
		r.With(need("transactions", "view")).Get("/{id}/transactions", handler.ListTouristTransactions)
	})

	// Access administration
	router.With(need("roles", "create")).Put("/roles/{roleID}", handler.SaveRole)
	router.With(need("users", "edit")).Put("/users/{userID}/roles/{roleID}", handler.AssignRole)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
