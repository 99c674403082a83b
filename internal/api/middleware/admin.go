package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/intercompbx/intercompbx/internal/auth"
)

type contextKey string

const operatorKey contextKey = "admin_operator"

// RequireAdminAuth returns middleware that accepts only requests carrying a
// valid admin bearer token. The token's operator is stored in the context.
func RequireAdminAuth(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("subsystem", "admin_auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := auth.ParseAdminToken(secret, strings.TrimSpace(token))
			if err != nil {
				logger.Debug("rejected admin token", "error", err, "ip", clientIP(r))
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated admin operator, or "".
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey).(string)
	return op
}
