package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-fairpass/internal/logger"
)

func TestRequireAdmin(t *testing.T) {
	var logs bytes.Buffer
	var seenUser string
	handler := RequireAdmin(NewHMACVerifier(testSecret), logger.NewLoggerWithWriter(&logs))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenUser = UserID(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	adminToken, err := NewAdminToken(testSecret, "ops", time.Minute)
	require.NoError(t, err)
	userToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "user",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer " + userToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	assert.Equal(t, "ops", seenUser)
	assert.Contains(t, logs.String(), "AUTH_REJECTED")
}
