package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

type contextKey string

const userIDKey contextKey = "user_id"

// SessionResolver maps an Authorization header value to a user id.
type SessionResolver interface {
	ResolveSession(ctx context.Context, header string) (string, bool, error)
}

type AuthMiddleware struct {
	resolver SessionResolver
	logger   *logrus.Logger
}

func NewAuthMiddleware(resolver SessionResolver, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// Authenticate attaches the session's user id to the request context when
// the bearer token resolves. Requests without a usable token pass through
// unauthenticated; handlers decide whether that is acceptable.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok, err := m.resolver.ResolveSession(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			m.logger.WithError(err).Error("Failed to resolve session")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":"INTERNAL","message":"Internal server error"}}`))
			return
		}

		if ok {
			r = r.WithContext(WithUserID(r.Context(), userID))
		}

		next.ServeHTTP(w, r)
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
