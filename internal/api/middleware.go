/**
 * @description
 * This file contains custom middleware for the HTTP router: an internal API
 * key check for service-to-service calls (teller terminals and channel
 * gateways sit behind the bank's edge, which injects the key), and a staff
 * JWT check that supplies approver identity and role to the decision
 * endpoint.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// staffContextKey is a custom type for context keys to avoid collisions.
type staffContextKey string

const (
	staffIDKey   staffContextKey = "staffID"
	staffRoleKey staffContextKey = "staffRole"
)

// InternalAPIKeyMiddleware rejects requests that do not carry the shared
// internal key in X-Internal-Api-Key.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get("X-Internal-Api-Key"))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaffAuthMiddleware validates an HS256 staff token issued by the bank's
// identity service and places the staff id and role into the request context.
func StaffAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			staffID, ok := claims["sub"].(string)
			if !ok || staffID == "" {
				http.Error(w, "Staff ID not found in token", http.StatusUnauthorized)
				return
			}
			role, _ := claims["role"].(string)

			ctx := context.WithValue(r.Context(), staffIDKey, staffID)
			ctx = context.WithValue(ctx, staffRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetStaffIdentity retrieves the authenticated staff id and role from the
// request context.
func GetStaffIdentity(ctx context.Context) (id string, role string, ok bool) {
	id, ok = ctx.Value(staffIDKey).(string)
	role, _ = ctx.Value(staffRoleKey).(string)
	return id, role, ok
}
