package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"crm-notification-service/pkg/response"
)

type contextKey string

const (
	ContextUserID contextKey = "userID"
	ContextOrgID  contextKey = "orgID"
	ContextRole   contextKey = "role"
)

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok
}

func GetOrgID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextOrgID).(string)
	return val, ok
}

// Claims is the access token payload issued by the identity service.
type Claims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret       []byte
	serviceToken string
}

func NewAuthMiddleware(jwtSecret, serviceToken string) *AuthMiddleware {
	return &AuthMiddleware{
		secret:       []byte(jwtSecret),
		serviceToken: serviceToken,
	}
}

// extractToken finds the bearer token; browsers cannot set headers on
// WebSocket upgrades, so a token query parameter is accepted too.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return am.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware authenticates end users and stores their identity in the
// request context.
func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			response.Error(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		claims, err := am.verify(tokenStr)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ContextUserID, claims.UserID)
		ctx = context.WithValue(ctx, ContextOrgID, claims.OrganizationID)
		ctx = context.WithValue(ctx, ContextRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServiceAuth guards internal endpoints (event producers, provider webhooks)
// with a static shared token.
func (am *AuthMiddleware) ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Service-Token")
		if token == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if am.serviceToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(am.serviceToken)) != 1 {
			response.Error(w, http.StatusUnauthorized, "Invalid service token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
