package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/clinic-invoices/internal/db"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T) (*Service, *clock, *gorm.DB) {
	t.Helper()
	gdb := setupTestDB(t)
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(gdb, "test-secret", time.Hour,
		WithClock(c.now),
		WithBcryptCost(bcrypt.MinCost),
		WithCacheTTL(time.Minute),
	)
	return svc, c, gdb
}

func TestRegister(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	op, err := svc.Register(ctx, "front_desk", "abc123!x", models.RoleClient)
	require.NoError(t, err)
	assert.NotEqual(t, "abc123!x", op.Password)
	assert.Equal(t, models.RoleClient, op.Role)

	_, err = svc.Register(ctx, "front_desk", "abc123!x", models.RoleClient)
	assert.ErrorIs(t, err, services.ErrDuplicate)

	tests := []struct {
		name, user, pass string
		role             models.Role
		field            string
	}{
		{"short username", "ab", "abc123!x", models.RoleClient, "username"},
		{"dash in username", "front-desk", "abc123!x", models.RoleClient, "username"},
		{"weak password", "nurse", "password", models.RoleClient, "password"},
		{"unknown role", "nurse", "abc123!x", models.Role("root"), "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.user, tt.pass, tt.role)
			var verr *services.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoginAndResolve(t *testing.T) {
	svc, clk, gdb := newService(t)
	ctx := context.Background()
	op, err := svc.Register(ctx, "admin", "adm1n!pass", models.RoleAdmin)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "admin", "wrong!pass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "adm1n!pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := svc.Login(ctx, "admin", "adm1n!pass")
	require.NoError(t, err)

	got, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.True(t, got.IsAdmin())

	_, err = svc.Resolve(ctx, token+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService(gdb, "other-secret", time.Hour, WithClock(clk.now))
	_, err = other.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken, "signed with another secret")

	clk.t = clk.t.Add(2 * time.Hour)
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestResolveDeletedOperator(t *testing.T) {
	svc, clk, gdb := newService(t)
	ctx := context.Background()
	op, err := svc.Register(ctx, "temp_user", "abc123!x", models.RoleClient)
	require.NoError(t, err)
	token, err := svc.Issue(op)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, token)
	require.NoError(t, err)
	require.NoError(t, gdb.Delete(&models.Operator{}, op.ID).Error)

	_, err = svc.Resolve(ctx, token)
	assert.NoError(t, err, "still cached")

	clk.t = clk.t.Add(2 * time.Minute)
	_, err = svc.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCachedResolverInvalidate(t *testing.T) {
	svc, _, gdb := newService(t)
	ctx := context.Background()
	op, err := svc.Register(ctx, "nurse", "abc123!x", models.RoleClient)
	require.NoError(t, err)
	token, err := svc.Issue(op)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, token)
	require.NoError(t, err)
	require.NoError(t, gdb.Model(&models.Operator{}).Where("id = ?", op.ID).Update("role", models.RoleAdmin).Error)

	got, err := svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, got.Role, "cached")

	svc.Forget(op.ID)
	got, err = svc.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
}

func TestMiddleware(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	op, err := svc.Register(ctx, "nurse", "abc123!x", models.RoleClient)
	require.NoError(t, err)
	token, err := svc.Issue(op)
	require.NoError(t, err)

	h := svc.Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, models.RoleClient, role)
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"auth-token header", TokenHeader, token, http.StatusNoContent},
		{"bearer", "Authorization", "Bearer " + token, http.StatusNoContent},
		{"lowercase bearer", "Authorization", "bearer " + token, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", TokenHeader, "not-a-token", http.StatusUnauthorized},
		{"basic", "Authorization", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/auth/checktoken", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
