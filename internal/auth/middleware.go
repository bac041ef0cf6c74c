package auth

import (
	"context"
	"fmt"
	"net/http"

	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireAdmin lets a request through only with a verified bearer token that
// carries the admin role. The token subject is stored in the context.
func RequireAdmin(verifier TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				reject(w, r, log, http.StatusUnauthorized, err)
				return
			}

			claims, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				reject(w, r, log, http.StatusUnauthorized, err)
				return
			}
			if !claims.HasRole(AdminRole) {
				reject(w, r, log, http.StatusForbidden, ErrNotAdmin)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, log *logger.Logger, status int, err error) {
	log.LogSecurity("AUTH_REJECTED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	utils.WriteJSON(w, status, utils.ErrorResponse(http.StatusText(status), err.Error()))
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
