package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/web/handlers"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

const (
	requestTimeout         = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Config holds the listener settings
type Config struct {
	Addr string
	// AdminToken guards /api/admin; empty disables those routes
	AdminToken string
	// AllowedNet restricts connection sources; nil allows all
	AllowedNet *net.IPNet
	// AllowedOrigins enables CORS for browser clients on other origins
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Server represents the web server
type Server struct {
	cfg      Config
	deps     handlers.Deps
	router   *chi.Mux
	handlers *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(deps handlers.Deps, cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		router:   chi.NewRouter(),
		handlers: handlers.New(deps),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router
	h := s.handlers

	r.Use(chimiddleware.RequestID)
	// AllowSubnet must come before RealIP so the socket address is checked
	r.Use(middleware.AllowSubnet(s.cfg.AllowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.AdminTokenHeader},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	// Timeout is applied per group so event streams can stay open

	// Event streams - no timeout (long-lived connections)
	r.Get("/api/events", h.Events)
	r.Get("/api/events/stream", h.EventStream)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))

		r.Get("/health", h.Health)

		// Catalog
		r.Get("/products", h.Products)
		r.Get("/products/{id}", h.Product)
		r.Get("/categories", h.Categories)

		// Account
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})

		// Signed-in routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(s.deps.Session))

			r.Patch("/profile", h.UpdateProfile)
			r.Get("/stats", h.Stats)
			r.Get("/export", h.Export)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart)
				r.Post("/", h.AddToCart)
				r.Delete("/", h.ClearCart)
				r.Patch("/{id}", h.UpdateCartItem)
				r.Delete("/{id}", h.RemoveCartItem)
			})

			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", h.Favorites)
				r.Post("/{productId}/toggle", h.ToggleFavorite)
				r.Put("/{productId}", h.AddFavorite)
				r.Delete("/{productId}", h.RemoveFavorite)
			})

			r.Get("/orders", h.Orders)
			r.Get("/orders/{id}", h.Order)
			r.Post("/checkout/quote", h.Quote)
			r.Post("/checkout", h.Checkout)
		})

		// Admin routes (token auth)
		if s.cfg.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.cfg.AdminToken))

				r.Get("/users", h.Users)
				r.Delete("/users/{id}", h.DeleteUser)
				r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
				r.Delete("/orders/{id}", h.DeleteOrder)
				r.Post("/reset", h.Reset)
				r.Get("/maintenance", h.MaintenanceStatus)
				r.Post("/maintenance/run", h.RunMaintenance)
			})
		}
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow long-lived event streams
		// Chi middleware timeout protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop the broker first so event streams end and Shutdown is not held open
		if s.deps.Broker != nil {
			s.deps.Broker.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
