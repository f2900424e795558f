// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/rollcall/internal/api/handler"
	"github.com/d9705996/rollcall/internal/api/jsonapi"
	"github.com/d9705996/rollcall/internal/api/middleware"
	"github.com/d9705996/rollcall/internal/health"
)

// Deps holds the handlers and settings the route table needs.
type Deps struct {
	Health    *health.Handler
	Auth      *handler.AuthHandler
	Banners   *handler.BannerHandler
	JWTSecret string
	Logger    *slog.Logger
}

// Route is one entry of the route table. A route with Auth set is only
// reachable with a valid access token; Permission, when non-empty, is
// checked on top of that.
type Route struct {
	Name       string
	Pattern    string // ServeMux pattern including the method
	Handler    http.HandlerFunc
	Auth       bool
	Permission string
}

// Routes returns the route table of the application.
func Routes(d Deps) []Route {
	return []Route{
		// Public health endpoints
		{Name: "health", Pattern: "GET /api/v1/health", Handler: d.Health.ServeHealth},
		{Name: "ready", Pattern: "GET /api/v1/ready", Handler: d.Health.ServeReady},

		// Accounts
		{Name: "auth.register", Pattern: "POST /api/v1/auth/register", Handler: d.Auth.Register},
		{Name: "auth.login", Pattern: "POST /api/v1/auth/login", Handler: d.Auth.Login},
		{Name: "auth.refresh", Pattern: "POST /api/v1/auth/refresh", Handler: d.Auth.Refresh},
		{Name: "auth.logout", Pattern: "POST /api/v1/auth/logout", Handler: d.Auth.Logout, Auth: true},
		{Name: "auth.me", Pattern: "GET /api/v1/auth/me", Handler: d.Auth.Me, Auth: true},
		{Name: "auth.password_reset", Pattern: "POST /api/v1/auth/password-reset", Handler: d.Auth.RequestPasswordReset},
		{Name: "auth.password_reset_confirm", Pattern: "POST /api/v1/auth/password-reset/confirm", Handler: d.Auth.ResetPassword},

		// Welcome banners
		{Name: "banners.list", Pattern: "GET /api/v1/banners", Handler: d.Banners.List, Auth: true, Permission: middleware.PermBannerRead},
		{Name: "banners.create", Pattern: "POST /api/v1/banners", Handler: d.Banners.Create, Auth: true, Permission: middleware.PermBannerWrite},
		{Name: "banners.show", Pattern: "GET /api/v1/banners/{id}", Handler: d.Banners.Show, Auth: true, Permission: middleware.PermBannerRead},
		{Name: "banners.update", Pattern: "PUT /api/v1/banners/{id}", Handler: d.Banners.Update, Auth: true, Permission: middleware.PermBannerWrite},
		{Name: "banners.delete", Pattern: "DELETE /api/v1/banners/{id}", Handler: d.Banners.Delete, Auth: true, Permission: middleware.PermBannerWrite},
		{Name: "banners.events", Pattern: "GET /api/v1/banners/{id}/events", Handler: d.Banners.Events, Auth: true, Permission: middleware.PermBannerRead},
	}
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	protected := middleware.RequireAuth(d.JWTSecret)

	for _, rt := range Routes(d) {
		var h http.Handler = rt.Handler
		if rt.Permission != "" {
			h = middleware.RequirePermission(rt.Permission)(h)
		}
		if rt.Auth || rt.Permission != "" {
			h = protected(h)
		}
		mux.Handle(rt.Pattern, middleware.Observe(rt.Name, log)(h))
	}

	// Unknown API paths get a JSON:API 404 instead of the SPA shell. The
	// pattern carries a method so it does not conflict with "GET /".
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		jsonapi.NotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})
}
