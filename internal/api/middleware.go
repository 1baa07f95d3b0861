package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/erazemk/lostfound/internal/auth"
	"github.com/erazemk/lostfound/internal/store"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenCookie is the cookie that carries the JWT for browser clients.
const TokenCookie = "token"

// Guard authenticates requests by JWT, taken from the Authorization
// header or, failing that, the token cookie.
type Guard struct {
	DB      *sql.DB
	Secret  string
	Revoker auth.Revoker
}

// tokenFromRequest returns the raw JWT, or "" if none was sent.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// authenticate returns the request's claims, or a status and message to
// reject it with. A missing token yields (nil, 0, "").
func (g *Guard) authenticate(r *http.Request) (*auth.Claims, int, string) {
	tokenStr := tokenFromRequest(r)
	if tokenStr == "" {
		return nil, 0, ""
	}

	claims, err := auth.ValidateToken(g.Secret, tokenStr)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	if g.Revoker != nil && claims.ID != "" {
		revoked, err := g.Revoker.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			slog.Error("failed to check token revocation", "error", err)
			return nil, http.StatusInternalServerError, "internal error"
		}
		if revoked {
			return nil, http.StatusUnauthorized, "token has been revoked"
		}
	}

	// Admin rights and the account itself may have changed since the token
	// was issued.
	user, err := store.GetUser(r.Context(), g.DB, claims.UserID)
	if err != nil {
		slog.Error("failed to load token user", "error", err)
		return nil, http.StatusInternalServerError, "internal error"
	}
	if user == nil {
		return nil, http.StatusUnauthorized, "account no longer exists"
	}
	claims.IsAdmin = user.IsAdmin
	claims.Username = user.Username
	return claims, 0, ""
}

// Authenticate rejects requests without a valid token.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, status, msg := g.authenticate(r)
		if status != 0 {
			jsonError(w, status, msg)
			return
		}
		if claims == nil {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// OptionalAuth attaches claims when a valid token is present and lets the
// request through either way.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, status, _ := g.authenticate(r)
		if status == 0 && claims != nil {
			r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil {
			jsonError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !claims.IsAdmin {
			jsonError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the JWT claims from the context.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs HTTP requests with method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.RequestURI(),
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// RequestIDHeader echoes the request ID (set by middleware.RequestID) back
// to the client so reports can be matched with log lines.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}
