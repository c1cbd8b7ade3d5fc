package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/models"
)

type ctxKey string

const operatorCtxKey = ctxKey("operator")

// TokenHeader is the legacy header accepted alongside Authorization: Bearer.
const TokenHeader = "Auth-Token"

// WithOperator stores the operator in context.
func WithOperator(ctx context.Context, op *models.Operator) context.Context {
	return context.WithValue(ctx, operatorCtxKey, op)
}

// OperatorFromContext extracts the operator.
func OperatorFromContext(ctx context.Context) (*models.Operator, bool) {
	op, ok := ctx.Value(operatorCtxKey).(*models.Operator)
	return op, ok && op != nil
}

// RoleFromContext returns the caller's role; it plugs into gate.New.
func RoleFromContext(ctx context.Context) (models.Role, bool) {
	op, ok := OperatorFromContext(ctx)
	if !ok {
		return "", false
	}
	return op.Role, true
}

// TokenFromRequest reads the Auth-Token header, falling back to a bearer
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(TokenHeader)); t != "" {
		return t
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Middleware attaches the operator to the request context when a valid
// token is present. Requests without one continue anonymously.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := TokenFromRequest(r); token != "" {
			op, err := s.Resolve(r.Context(), token)
			if err == nil {
				r = r.WithContext(WithOperator(r.Context(), op))
			} else {
				s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("token rejected")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth returns 401 JSON unless the request carries an operator.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OperatorFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
