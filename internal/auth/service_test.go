package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenants map[string]bool

func (f fakeTenants) CheckTenantAccess(_ context.Context, id string) bool {
	return f[id]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	tenants := fakeTenants{"t1": true, "t2": true, "dead": false}
	svc := NewService(store, NewTokenService(testSecret, "agentplatform"), tenants, discardLogger())
	return svc, store
}

func mustCreateUser(t *testing.T, svc *Service, username, tenantID string, roles ...string) *User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		TenantID: tenantID,
		Roles:    roles,
	})
	require.NoError(t, err)
	return u
}

func TestService_LoginUsesStoredTenant(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "alice", "t1")

	session, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "t1", session.TenantID)
	assert.Equal(t, "bearer", session.TokenType)
	assert.NotNil(t, session.User.LastLoginAt)

	claims, err := svc.Tokens().Verify(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, TokenAccess, claims.Type)
}

func TestService_LoginTenantPrecedence(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "root", "", RoleAdmin)

	tests := []struct {
		name string
		req  LoginRequest
		want string
	}{
		{"explicit wins", LoginRequest{TenantID: "t1", HeaderTenant: "t2", ResolvedTenant: "t2"}, "t1"},
		{"header over resolved", LoginRequest{HeaderTenant: "t2", ResolvedTenant: "t1"}, "t2"},
		{"resolved", LoginRequest{ResolvedTenant: "t1"}, "t1"},
		{"none", LoginRequest{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Username = "root"
			tt.req.Password = "password123"
			session, err := svc.Login(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, session.TenantID)
		})
	}
}

func TestService_LoginTenantMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "alice", "t2")

	_, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password123", HeaderTenant: "t1"})
	assert.ErrorIs(t, err, ErrTenantMismatch)

	session, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password123", TenantID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", session.TenantID)
}

func TestService_LoginFailures(t *testing.T) {
	svc, _ := newTestService(t)
	u := mustCreateUser(t, svc, "alice", "t1")
	mustCreateUser(t, svc, "ghost", "dead")
	ctx := context.Background()

	_, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginRequest{Username: "nobody", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginRequest{Username: "ghost", Password: "password123"})
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	_, err = svc.SetActive(ctx, u.ID, false)
	require.NoError(t, err)
	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserInactive)
}

// A token without a tenant claim presented with X-Tenant-ID t1 by a user
// whose stored tenant is t2 must be rejected.
func TestService_AuthenticateHeaderAgainstStoredTenant(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), &User{
		ID: "u1", Username: "u1", TenantID: "t2", IsActive: true, Roles: []string{RoleUser},
		CreatedAt: now, UpdatedAt: now,
	}))

	raw, _, err := svc.Tokens().Issue("u1", Claims{Type: TokenAccess}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), raw, "t1")
	assert.ErrorIs(t, err, ErrTenantMismatch)

	p, err := svc.Authenticate(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, "t2", p.TenantID)
}

func TestService_AuthenticateClaimAgainstStoredTenant(t *testing.T) {
	svc, _ := newTestService(t)
	u := mustCreateUser(t, svc, "alice", "t2")

	raw, _, err := svc.Tokens().Issue(u.ID, Claims{TenantID: "t1", Type: TokenAccess}, time.Hour)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), raw, "")
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestService_AuthenticateCrossTenantAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "root", "", RoleAdmin)

	session, err := svc.Login(context.Background(), LoginRequest{Username: "root", Password: "password123"})
	require.NoError(t, err)

	p, err := svc.Authenticate(context.Background(), session.AccessToken, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", p.TenantID)
	assert.True(t, p.IsAdmin())

	// A session bound to t1 cannot be replayed against t2.
	bound, err := svc.Login(context.Background(), LoginRequest{Username: "root", Password: "password123", TenantID: "t1"})
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), bound.AccessToken, "t2")
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

// A user with no tenant and no admin role cannot pick a tenant, neither at
// login nor per request.
func TestService_TenantlessUserCannotPickTenant(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "drifter", "")

	_, err := svc.Login(context.Background(), LoginRequest{Username: "drifter", Password: "password123", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrTenantMismatch)
	_, err = svc.Login(context.Background(), LoginRequest{Username: "drifter", Password: "password123", ResolvedTenant: "t1"})
	assert.ErrorIs(t, err, ErrTenantMismatch)

	session, err := svc.Login(context.Background(), LoginRequest{Username: "drifter", Password: "password123"})
	require.NoError(t, err)
	assert.Empty(t, session.TenantID)

	_, err = svc.Authenticate(context.Background(), session.AccessToken, "t1")
	assert.ErrorIs(t, err, ErrTenantMismatch)

	p, err := svc.Authenticate(context.Background(), session.AccessToken, "")
	require.NoError(t, err)
	assert.Empty(t, p.TenantID)
}

func TestService_AuthenticateRejectsRefreshToken(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "alice", "t1")

	session, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), session.RefreshToken, "")
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestService_Refresh(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "alice", "t1")

	session, err := svc.Login(context.Background(), LoginRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "t1", refreshed.TenantID)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)

	_, err = svc.Refresh(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestService_CreateUserValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserRequest{Username: "", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = svc.CreateUser(ctx, CreateUserRequest{Username: "bob", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = svc.CreateUser(ctx, CreateUserRequest{Username: "bob", Password: "password123", Roles: []string{"root"}})
	assert.ErrorIs(t, err, ErrInvalidUser)

	u, err := svc.CreateUser(ctx, CreateUserRequest{Username: "bob", Email: "Bob@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleUser}, u.Roles)
	assert.Equal(t, "bob@example.com", u.Email)
	assert.NotEqual(t, "password123", u.PasswordHash)

	_, err = svc.CreateUser(ctx, CreateUserRequest{Username: "BOB", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestService_ChangeAndResetPassword(t *testing.T) {
	svc, _ := newTestService(t)
	u := mustCreateUser(t, svc, "alice", "t1")
	ctx := context.Background()

	assert.ErrorIs(t, svc.ChangePassword(ctx, u.ID, "wrong-password", "newpassword1"), ErrInvalidCredentials)
	require.NoError(t, svc.ChangePassword(ctx, u.ID, "password123", "newpassword1"))

	_, err := svc.Login(ctx, LoginRequest{Username: "alice", Password: "newpassword1"})
	require.NoError(t, err)

	require.NoError(t, svc.ResetPassword(ctx, u.ID, "resetpassword"))
	_, err = svc.Login(ctx, LoginRequest{Username: "alice", Password: "newpassword1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_ListAndCountUsers(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreateUser(t, svc, "a", "t1")
	mustCreateUser(t, svc, "b", "t1")
	mustCreateUser(t, svc, "c", "t2")
	ctx := context.Background()

	users, err := svc.ListUsers(ctx, "t1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	all, err := svc.ListUsers(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := svc.CountUsers(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type seatLimit int

func (l seatLimit) CheckUserLimit(_ string, current int) bool { return current < int(l) }

func TestService_CreateUserEnforcesSeatLimit(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithUserLimit(seatLimit(2))

	mustCreateUser(t, svc, "a", "t1")
	mustCreateUser(t, svc, "b", "t1")

	_, err := svc.CreateUser(context.Background(), CreateUserRequest{Username: "c", Password: "password123", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrUserLimit)

	// Users without a tenant are not counted against any plan.
	mustCreateUser(t, svc, "root", "", RoleAdmin)
}
