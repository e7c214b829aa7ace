package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/brightclass/speech_service/pkg/response"
)

// TokenValidator resolves a bearer credential to a user ID.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type ctxKey int

const userIDKey ctxKey = iota

// Auth returns a middleware that admits only requests carrying a valid
// bearer token. The resolved user ID is available downstream via UserID.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				response.Unauthorized(w, "missing authorization header")
				return
			}

			token, ok := bearerCredential(header)
			if !ok {
				response.Unauthorized(w, "invalid authorization format")
				return
			}

			userID, err := validator.ValidateToken(token)
			if err != nil {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerCredential splits an Authorization header into its token, accepting
// any capitalization of the Bearer scheme.
func bearerCredential(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// UserID returns the authenticated user ID, or "" outside an authenticated
// request.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
