package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"my-teddy/storefront"
	"my-teddy/utils"
)

// Key type for context
type contextKey string

const (
	UserContextKey    = contextKey("user")
	ShopperContextKey = contextKey("shopper")
)

// ClaimsFrom returns the claims attached by Auth
func ClaimsFrom(ctx context.Context) (*utils.Claims, bool) {
	c, ok := ctx.Value(UserContextKey).(*utils.Claims)
	return c, ok
}

// ShopperFrom returns the shopper attached by Auth
func ShopperFrom(ctx context.Context) (*storefront.Shopper, bool) {
	s, ok := ctx.Value(ShopperContextKey).(*storefront.Shopper)
	return s, ok
}

// WithIdentity attaches claims and shopper to ctx
func WithIdentity(ctx context.Context, claims *utils.Claims, shopper *storefront.Shopper) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, claims)
	return context.WithValue(ctx, ShopperContextKey, shopper)
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Auth verifies session tokens and attaches the claims and the session's
// shopper to the request context.
func Auth(tokens *utils.Tokens, shoppers *storefront.Registry, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Authorization header missing")
				return
			}
			tokenStr, ok := bearer(r)
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}
			claims, err := tokens.Parse(tokenStr, utils.AudienceSession)
			if err != nil {
				logger.Debug("rejected token", zap.Error(err))
				utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}
			shopper, err := shoppers.Acquire(claims.SessionID(), claims.UserID())
			if err != nil {
				if errors.Is(err, storefront.ErrSessionEnded) {
					utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Session has ended")
					return
				}
				logger.Error("opening shopper", zap.Error(err))
				utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Could not open session")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims, shopper)))
		})
	}
}

// AdminMiddleware ensures that the user has admin privileges
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok || !claims.IsAdmin() {
			utils.WriteError(w, http.StatusForbidden, "forbidden", "Forbidden: Admins only")
			return
		}
		next.ServeHTTP(w, r)
	})
}
