package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/campa/internal/core"
	"github.com/JonMunkholm/campa/internal/logging"
)

// SessionCookie carries the session token for browser clients, which cannot
// set headers on websocket or EventSource requests.
const SessionCookie = "campa_session"

// Identifier resolves a session token to its caller.
type Identifier interface {
	Identify(ctx context.Context, token string) (core.Identity, error)
}

// TokenFromRequest returns the bearer token or, failing that, the session
// cookie value.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate rejects requests without a valid session and stores the
// caller in the request context for handlers and later middleware.
func Authenticate(ids Identifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeAuthError(w, r, core.ErrNoIdentity, http.StatusUnauthorized)
				return
			}

			id, err := ids.Identify(r.Context(), token)
			if err != nil {
				writeAuthError(w, r, err, http.StatusUnauthorized)
				return
			}

			ctx := core.ContextWithIdentity(r.Context(), id)
			ctx = logging.With(ctx, "user_id", id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the admin role. It must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := core.IdentityFromContext(r.Context())
		if !ok {
			writeAuthError(w, r, core.ErrNoIdentity, http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			writeAuthError(w, r, core.ErrForbidden, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	slog.Warn("auth: rejected request",
		"path", r.URL.Path,
		"method", r.Method,
		"remote_addr", r.RemoteAddr,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   msg.Message,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}
