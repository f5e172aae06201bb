package authMiddlware

import (
	"context"
	"net/http"

	resp "price_service/internal/lib/api/response"
	"price_service/internal/lib/jwt"

	"github.com/go-chi/render"
)

type contextKey string

const ClaimsKey contextKey = "claims"

type TokenParser interface {
	ParseToken(authHeader string) (jwt.Claims, error)
}

// AuthMiddleware rejects requests without a valid bearer token before any handler work.
func AuthMiddleware(jwtParser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Missing authorization"))
				return
			}

			claims, err := jwtParser.ParseToken(authHeader)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Missing authorization"))
			return
		}

		if !claims.IsAdmin() {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("Admin access required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ClaimsFromContext(ctx context.Context) (jwt.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(jwt.Claims)
	return claims, ok
}
