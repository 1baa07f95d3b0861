package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/erazemk/lostfound/internal/auth"
)

// Deps are the resources the API needs.
type Deps struct {
	DB             *sql.DB
	JWTSecret      string
	Revoker        auth.Revoker
	Health         HealthChecker
	ServerName     string
	CookieSecure   bool
	MaxUploadBytes int64
	AllowedOrigins []string
}

// NewRouter creates the API router with all endpoints registered and the
// common middleware applied.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	guard := &Guard{DB: d.DB, Secret: d.JWTSecret, Revoker: d.Revoker}
	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret, Revoker: d.Revoker, CookieSecure: d.CookieSecure}
	itemsHandler := &ItemsHandler{DB: d.DB, MaxUploadBytes: d.MaxUploadBytes}
	deletionsHandler := &DeletionsHandler{DB: d.DB}
	usersHandler := &UsersHandler{DB: d.DB}
	healthHandler := &HealthHandler{Checker: d.Health, ServerName: d.ServerName}

	authed := func(h http.HandlerFunc) http.Handler { return guard.Authenticate(h) }
	admin := func(h http.HandlerFunc) http.Handler { return guard.Authenticate(RequireAdmin(h)) }

	// Health.
	if d.Health != nil {
		mux.HandleFunc("GET /api/health", healthHandler.Health)
	}
	mux.HandleFunc("GET /api/ping", healthHandler.Ping)

	// Auth.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("GET /api/auth/me", authed(authHandler.Me))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))

	// Items: browsing is public, changes need the poster or an admin.
	mux.Handle("GET /api/items", guard.OptionalAuth(http.HandlerFunc(itemsHandler.List)))
	mux.HandleFunc("GET /api/items/{id}", itemsHandler.Get)
	mux.HandleFunc("GET /api/items/{id}/image", itemsHandler.GetImage)
	mux.Handle("POST /api/items", authed(itemsHandler.Create))
	mux.Handle("PUT /api/items/{id}", authed(itemsHandler.Update))
	mux.Handle("DELETE /api/items/{id}", authed(itemsHandler.Delete))
	mux.Handle("PUT /api/items/{id}/image", authed(itemsHandler.UploadImage))
	mux.Handle("POST /api/items/{id}/deletion-requests", authed(itemsHandler.RequestDeletion))

	// Deletion requests (admin only).
	mux.Handle("GET /api/deletion-requests", admin(deletionsHandler.List))
	mux.Handle("POST /api/deletion-requests/{id}/approve", admin(deletionsHandler.Approve))
	mux.Handle("POST /api/deletion-requests/{id}/reject", admin(deletionsHandler.Reject))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}/admin", admin(usersHandler.SetAdmin))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// GET only, so a wrong method on a known path still gets the mux's 405.
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		jsonError(w, http.StatusNotFound, "not found")
	})

	var handler http.Handler = mux
	handler = middleware.Recoverer(handler)
	handler = LoggingMiddleware(handler)
	handler = middleware.RealIP(handler)
	handler = RequestIDHeader(handler)
	handler = middleware.RequestID(handler)
	handler = cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	return handler
}
