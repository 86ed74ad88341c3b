package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/health"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/handler"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/middleware"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	SessionHandler   *handler.SessionHandler
	UserHandler      *handler.UserHandler
	RateLimitHandler *handler.RateLimitHandler
	Sessions         service.SessionServiceInterface
	RateLimiters     *service.RateLimiters
	Cookies          security.CookiePolicy
	CORSOrigins      []string
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	softAuth := middleware.Authenticate(dep.Sessions, dep.Cookies, middleware.SoftAuth)
	hardAuth := middleware.Authenticate(dep.Sessions, dep.Cookies, middleware.HardAuth)
	limiters := dep.RateLimiters

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiters.API))

		r.With(middleware.RateLimit(limiters.ContactForm)).Post("/contact", handler.Contact)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.CSRFMiddleware)

			r.Route("/auth", func(r chi.Router) {
				r.Get("/csrf", dep.AuthHandler.CSRF)
				r.Post("/login", dep.AuthHandler.Login)
				r.Post("/verify", dep.AuthHandler.Verify)
				r.Post("/resend", dep.AuthHandler.Resend)
				r.Post("/refresh", dep.AuthHandler.Refresh)
				r.With(softAuth).Post("/logout", dep.AuthHandler.Logout)
				r.With(hardAuth).Get("/me", dep.AuthHandler.Me)
			})

			r.Group(func(r chi.Router) {
				r.Use(hardAuth)
				r.Get("/sessions", dep.SessionHandler.List)
				r.Delete("/sessions/{id}", dep.SessionHandler.Terminate)
				r.Post("/sessions/terminate-others", dep.SessionHandler.TerminateOthers)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequirePermission(domain.PermManageUsers))
					r.Get("/users", dep.UserHandler.List)
					r.Delete("/users/{id}/sessions", dep.SessionHandler.TerminateUser)
					r.Post("/users/{id}/deactivate", dep.UserHandler.Deactivate)
					r.Post("/users/{id}/activate", dep.UserHandler.Activate)
				})

				r.Route("/rate-limits/{policy}/{clientId}", func(r chi.Router) {
					r.Use(middleware.RequireRole(domain.RoleSuperAdmin))
					r.Get("/", dep.RateLimitHandler.Status)
					r.Delete("/", dep.RateLimitHandler.Reset)
					r.Post("/block", dep.RateLimitHandler.Block)
				})
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
