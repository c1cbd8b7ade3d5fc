package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diewo77/clinic-invoices/internal/models"
)

func TestPermissionMatches(t *testing.T) {
	tests := []struct {
		have, want Permission
		ok         bool
	}{
		{"*:*", "invoice:void", true},
		{"invoice:*", "invoice:void", true},
		{"invoice:*", "return:create", false},
		{"product:view", "product:view", true},
		{"product:view", "product:update", false},
		{"bogus", "bogus:view", false},
	}
	for _, tt := range tests {
		if got := tt.have.Matches(tt.want); got != tt.ok {
			t.Errorf("%s.Matches(%s) = %v, want %v", tt.have, tt.want, got, tt.ok)
		}
	}
}

func TestRoleProfiles(t *testing.T) {
	profiles := RoleProfiles()
	admin, client := profiles[models.RoleAdmin], profiles[models.RoleClient]

	if !admin.HasPermission(NewPermission(ResourceReport, ActionView)) {
		t.Error("admin should read reports")
	}
	for _, p := range []Permission{"invoice:finalize", "return:create", "customer:update", "patient:create", "product:view", "product:list"} {
		if !client.HasPermission(p) {
			t.Errorf("client should have %s", p)
		}
	}
	for _, p := range []Permission{"product:create", "product:compose", "product:delete", "report:view"} {
		if client.HasPermission(p) {
			t.Errorf("client should not have %s", p)
		}
	}
	if got := len(client.Permissions()); got != 6 {
		t.Errorf("client permissions = %d", got)
	}
}

type roleKey struct{}

func subject(ctx context.Context) (models.Role, bool) {
	r, ok := ctx.Value(roleKey{}).(models.Role)
	return r, ok
}

func TestRequirePermission(t *testing.T) {
	g := New(subject)
	h := g.RequirePermission(ResourceProduct, ActionCompose)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		role *models.Role
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"client", ptr(models.RoleClient), http.StatusForbidden},
		{"admin", ptr(models.RoleAdmin), http.StatusNoContent},
		{"unknown role", ptr(models.Role("auditor")), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/products/KIT/components", nil)
			if tt.role != nil {
				r = r.WithContext(context.WithValue(r.Context(), roleKey{}, *tt.role))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
