package httpmw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cwrk-planet/meeting-service/internal/security"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"
)

type ctxKey string

const ctxKeyClaims ctxKey = "claims"

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*security.Claims, error)
}

// Auth requires "Authorization: Bearer <jwt>" and stores the verified claims
// in the request context.
func Auth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
				httputil.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := v.Verify(strings.TrimSpace(auth[7:]))
			if err != nil {
				slog.Debug("bearer token rejected", "err", err)
				httputil.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromCtx(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*security.Claims)
	return c, ok && c != nil
}

// SubjectFromCtx returns the token subject, or "" outside Auth.
func SubjectFromCtx(ctx context.Context) string {
	if c, ok := ClaimsFromCtx(ctx); ok {
		return c.Subject
	}
	return ""
}
