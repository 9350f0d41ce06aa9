package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey struct{}

var ErrNoUser = errors.New("no authenticated user in request")

// RequireAuth rejects requests without a valid bearer token and stores the
// username on the request context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeUnauthorized(w, "Missing token")
			return
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			writeUnauthorized(w, "Invalid token")
			return
		}

		username, _ := claims["username"].(string)
		if username == "" {
			writeUnauthorized(w, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
	})
}

func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKey{}, username)
}

func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(contextKey{}).(string)
	return username, ok && username != ""
}

func GetUsernameFromRequest(r *http.Request) (string, error) {
	if username, ok := UsernameFromContext(r.Context()); ok {
		return username, nil
	}
	return "", ErrNoUser
}

func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
