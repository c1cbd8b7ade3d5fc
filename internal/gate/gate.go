// Package gate authorizes operators against "resource:action" permissions
// held by role profiles.
package gate

import (
	"context"
	"errors"
	"net/http"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/models"
)

// Sentinel errors returned by Gate.Authorize.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// SubjectFunc returns the role of the caller carried by ctx.
type SubjectFunc func(ctx context.Context) (models.Role, bool)

// Gate is the central authorization checkpoint.
type Gate struct {
	profiles map[models.Role]Profile
	subject  SubjectFunc
}

// New creates a gate using RoleProfiles.
func New(subject SubjectFunc) *Gate {
	return &Gate{profiles: RoleProfiles(), subject: subject}
}

// Authorize returns ErrUnauthenticated when ctx carries no caller and
// ErrForbidden when the caller's profile lacks resourceType:action.
func (g *Gate) Authorize(ctx context.Context, resourceType string, action Action) error {
	role, ok := g.subject(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	profile, ok := g.profiles[role]
	if !ok || !profile.HasPermission(NewPermission(resourceType, action)) {
		return ErrForbidden
	}
	return nil
}

// Can is a convenience wrapper returning bool instead of error.
func (g *Gate) Can(ctx context.Context, resourceType string, action Action) bool {
	return g.Authorize(ctx, resourceType, action) == nil
}

// RequirePermission wraps next so it only runs for callers allowed
// resourceType:action.
func (g *Gate) RequirePermission(resourceType string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := g.Authorize(r.Context(), resourceType, action); {
			case errors.Is(err, ErrUnauthenticated):
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			case err != nil:
				httpx.JSONError(w, http.StatusForbidden, "forbidden", string(NewPermission(resourceType, action)))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
