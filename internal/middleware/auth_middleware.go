package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Vishnu2508307/Test-sub032/pkg/jwt"
	"github.com/Vishnu2508307/Test-sub032/pkg/response"
)

type contextKey string

const UserIDKey contextKey = "userID"

// BearerToken extracts the token from the Authorization header; empty
// when the header is absent or malformed. Shared with the WebSocket
// upgrade path, which also accepts a query-string token.
func BearerToken(r *http.Request) string {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				response.Unauthorized(w, "Missing or malformed bearer token")
				return
			}

			claims, err := jwt.ValidateToken(token, jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
