package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"vitalink/internal/keys"
	"vitalink/internal/models"
	"vitalink/internal/store"
)

type contextKey string

const (
	deviceUserKey contextKey = "deviceUser"
	subjectKey    contextKey = "subject"
)

// DeviceUser returns the user resolved by DeviceAuth, or nil.
func DeviceUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(deviceUserKey).(*models.User)
	return u
}

// Subject returns the IdP subject set by RequireAuth.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

func writeKindError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": msg})
}

func writeAuthError(w http.ResponseWriter, kind, msg string) {
	writeKindError(w, http.StatusUnauthorized, kind, msg)
}

// DeviceAuth resolves the opaque device key carried in X-API-Key or
// X-Emotion-Key against either hash slot. The raw key is hashed immediately
// and never logged.
type DeviceAuth struct {
	users  store.UserStore
	logger *zap.Logger
}

func NewDeviceAuth(users store.UserStore, logger *zap.Logger) *DeviceAuth {
	return &DeviceAuth{users: users, logger: logger}
}

func (m *DeviceAuth) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.Header.Get("X-Emotion-Key")
		}
		if key == "" {
			writeAuthError(w, "unauthenticated", "missing X-API-Key or X-Emotion-Key")
			return
		}

		user, err := m.users.UserByKeyHash(r.Context(), keys.Hash(key))
		if err != nil {
			m.logger.Error("credential lookup failed", zap.Error(err))
			writeKindError(w, http.StatusInternalServerError, "storage_error", "could not resolve credential")
			return
		}
		if user == nil {
			writeAuthError(w, "invalid_credential", "unknown device key")
			return
		}

		ctx := context.WithValue(r.Context(), deviceUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware verifies bearer tokens issued by the external identity
// provider for interactive dashboard users. It only checks signature and
// extracts the subject; issuing tokens is not this service's business.
type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(secret []byte) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			writeAuthError(w, "unauthenticated", "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeAuthError(w, "invalid_credential", "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeAuthError(w, "invalid_credential", "invalid claims")
			return
		}
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			writeAuthError(w, "invalid_credential", "invalid subject")
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
