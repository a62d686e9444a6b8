package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pel/esocialize-portal/app"
	"github.com/pel/esocialize-portal/handlers"
	"github.com/pel/esocialize-portal/middleware"
	"github.com/pel/esocialize-portal/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Principals, deps.Logger)
	portal := handlers.NewPortalHandler(deps.Metrics, deps.Logger)
	admin := handlers.NewAdminHandler(deps.Principals, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// OAuth2 auth endpoints (OIDC code flow); they answer 501 without a provider
	signIn := deps.AuthHandler()
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", signIn.HandleLogin)
		r.Get("/callback", signIn.HandleCallback)
		r.Get("/logout", signIn.HandleLogout)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.Authenticate)

		// Public routes; the visitor may be anonymous
		r.Get("/sections", portal.HandleSections)
		r.Get("/me", portal.HandleMe)
		r.Get("/portal/{section}", portal.HandleSection)

		// Role and permission management (require admin role)
		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireAdmin)
			r.Use(deps.AdminLimiter.Middleware)

			r.Get("/principals", admin.HandleListPrincipals)
			r.Get("/principals/{id}", admin.HandleGetPrincipal)
			r.Put("/principals/{id}/role", admin.HandleSetRole)
			r.Put("/principals/{id}/permissions/{section}", admin.HandleSetPermission)
			r.Get("/audit", admin.HandleAuditTrail)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: "Method not allowed",
		})
	})

	return r
}
