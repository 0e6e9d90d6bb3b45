// Package admin guards operator endpoints with an HS256 bearer token.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	jwttoken "domamart/internal/jwt_token"
	"domamart/pkg/platform/httputil"
	"domamart/pkg/requestcontext"
)

// TokenValidator checks a raw bearer token.
type TokenValidator interface {
	Validate(token string) (*jwttoken.Claims, error)
}

// RequireAdmin rejects requests without a valid bearer token carrying the admin
// role. The token subject is stored with requestcontext.WithAdminSubject.
func RequireAdmin(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				httputil.WriteStatus(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "bearer token required")
				return
			}

			claims, err := validator.Validate(raw)
			if err != nil {
				desc := "invalid token"
				if errors.Is(err, jwttoken.ErrTokenExpired) {
					desc = "token has expired"
				}
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteStatus(w, http.StatusUnauthorized, httputil.CodeUnauthorized, desc)
				return
			}
			if claims.Role != jwttoken.RoleAdmin {
				logger.WarnContext(ctx, "admin role missing",
					"request_id", requestcontext.RequestID(ctx),
					"subject", claims.Subject,
					"role", claims.Role,
				)
				httputil.WriteStatus(w, http.StatusForbidden, httputil.CodeForbidden, "admin role required")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithAdminSubject(ctx, claims.Subject)))
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
