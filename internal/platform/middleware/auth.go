package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"chronicle/internal/auth"
	"chronicle/pkg/requestcontext"
)

// TokenValidator is the slice of the auth service the middleware needs.
type TokenValidator interface {
	Validate(tokenString string) (*auth.Claims, error)
}

// Principal resolves the acting principal from a bearer token and places it
// in the context. Requests without a token pass through anonymous; handlers
// that require identity use RequireAuth instead.
func Principal(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(r.Context(), "invalid bearer token",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w, "Invalid or expired token")
				return
			}
			ctx := requestcontext.WithPrincipal(r.Context(), claims.Principal)
			ctx = requestcontext.WithSessionID(ctx, claims.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests whose context carries no principal. Chain it
// after Principal on routes that mutate state.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requestcontext.Principal(r.Context()) == "" {
				logger.WarnContext(r.Context(), "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const bearerPrefix = "Bearer "
	return strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
