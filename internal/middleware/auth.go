package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

// Context keys populated by the auth middleware.
const (
	AccountKey contextKey = "account"
	TenantKey  contextKey = "tenant"
	AdminKey   contextKey = "admin"
)

// AuthMiddleware resolves the calling account (and its tenant) from a JWT
// bearer token.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := validateToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AccountKey, fmt.Sprintf("%v", claims["account"]))
		if tenant, ok := claims["tenant"]; ok {
			ctx = context.WithValue(ctx, TenantKey, fmt.Sprintf("%v", tenant))
		}
		if admin, ok := claims["admin"].(bool); ok && admin {
			ctx = context.WithValue(ctx, AdminKey, true)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware restricts a route to tokens carrying the admin claim.
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if admin, ok := r.Context().Value(AdminKey).(bool); !ok || !admin {
			http.Error(w, "Admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Account returns the authenticated account from the request context.
func Account(r *http.Request) string {
	account, _ := r.Context().Value(AccountKey).(string)
	return account
}

// Tenant returns the authenticated tenant from the request context.
func Tenant(r *http.Request) string {
	tenant, _ := r.Context().Value(TenantKey).(string)
	return tenant
}

func validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if _, ok := claims["account"]; !ok {
		return nil, fmt.Errorf("token missing account claim")
	}
	return claims, nil
}
