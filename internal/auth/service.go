package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/agentplatform/internal/idgen"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/traces"
)

// TenantAccess reports whether a tenant may currently be used.
type TenantAccess interface {
	CheckTenantAccess(ctx context.Context, tenantID string) bool
}

// UserLimiter enforces a tenant's seat limit.
type UserLimiter interface {
	CheckUserLimit(tenantID string, current int) bool
}

// Default session lifetimes.
const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// LoginRequest carries credentials plus every place a tenant may have been
// named. The first non-empty of TenantID, HeaderTenant and ResolvedTenant
// wins; the user's stored tenant is the fallback.
type LoginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	TenantID       string `json:"tenant_id,omitempty"`
	HeaderTenant   string `json:"-"`
	ResolvedTenant string `json:"-"`
}

// Session is the result of a successful login or refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	TenantID     string `json:"tenant_id,omitempty"`
	User         *User  `json:"user"`
}

// CreateUserRequest is the input to CreateUser.
type CreateUserRequest struct {
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	TenantID      string   `json:"tenant_id,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	IsTenantAdmin bool     `json:"is_tenant_admin,omitempty"`
}

// Service authenticates users and issues sessions.
type Service struct {
	users      UserStore
	tokens     *TokenService
	tenants    TenantAccess
	limiter    UserLimiter
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates an auth service. tenants may be nil, in which case
// every tenant is treated as usable.
func NewService(users UserStore, tokens *TokenService, tenants TenantAccess, logger *slog.Logger) *Service {
	return &Service{
		users:      users,
		tokens:     tokens,
		tenants:    tenants,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// WithTTL overrides the access and refresh token lifetimes.
func (s *Service) WithTTL(access, refresh time.Duration) *Service {
	if access > 0 {
		s.accessTTL = access
	}
	if refresh > 0 {
		s.refreshTTL = refresh
	}
	return s
}

// WithUserLimit rejects CreateUser once a tenant reaches its seat limit.
func (s *Service) WithUserLimit(l UserLimiter) *Service {
	s.limiter = l
	return s
}

// WithClock overrides the time source for user timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Tokens exposes the token service.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login verifies credentials and issues a session bound to one tenant.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "auth.Login")
	defer span.End()

	session, err := s.login(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		metrics.AuthEventsTotal.WithLabelValues("login", "failure").Inc()
		s.logger.Warn("login failed", "username", req.Username, "error", err)
		return nil, err
	}
	span.SetAttributes(traces.UserID(session.User.ID), traces.TenantID(session.TenantID))
	metrics.AuthEventsTotal.WithLabelValues("login", "success").Inc()
	s.logger.Info("user logged in", "user_id", session.User.ID, "tenant_id", session.TenantID)
	return session, nil
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*Session, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	requested := firstNonEmpty(req.TenantID, req.HeaderTenant, req.ResolvedTenant)
	if requested != "" && user.TenantID != "" && requested != user.TenantID {
		return nil, ErrTenantMismatch
	}
	if requested != "" && user.TenantID == "" && !user.IsAdmin() {
		return nil, ErrTenantMismatch
	}
	tenantID := firstNonEmpty(requested, user.TenantID)
	if tenantID != "" && !s.tenantUsable(ctx, tenantID) {
		return nil, ErrTenantUnavailable
	}

	now := s.now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("auth: record login: %w", err)
	}

	return s.issueSession(user, tenantID)
}

func (s *Service) issueSession(user *User, tenantID string) (*Session, error) {
	base := Claims{
		TenantID: tenantID,
		Username: user.Username,
		Roles:    user.Roles,
	}
	if user.IsTenantAdmin {
		base.Extra = map[string]any{"tenant_admin": true}
	}

	access := base
	access.Type = TokenAccess
	accessToken, _, err := s.tokens.Issue(user.ID, access, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh := base
	refresh.Type = TokenRefresh
	refreshToken, _, err := s.tokens.Issue(user.ID, refresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		TenantID:     tenantID,
		User:         user,
	}, nil
}

// Authenticate verifies an access token and returns the principal it names.
// requestTenant is the tenant resolved for the current request, if any.
// A user with a stored tenant can never act in a different one, whether
// the other tenant comes from the token or from the request.
func (s *Service) Authenticate(ctx context.Context, raw, requestTenant string) (*Principal, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenAccess {
		return nil, ErrWrongTokenType
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if user.TenantID != "" {
		if claims.TenantID != "" && claims.TenantID != user.TenantID {
			return nil, ErrTenantMismatch
		}
		if requestTenant != "" && requestTenant != user.TenantID {
			return nil, ErrTenantMismatch
		}
	} else if requestTenant != "" {
		if claims.TenantID != "" && requestTenant != claims.TenantID {
			return nil, ErrTenantMismatch
		}
		// Only administrators may pick a tenant per request.
		if claims.TenantID == "" && !user.IsAdmin() {
			return nil, ErrTenantMismatch
		}
	}

	return &Principal{
		UserID:   user.ID,
		Username: user.Username,
		TenantID: firstNonEmpty(requestTenant, claims.TenantID, user.TenantID),
		Roles:    append([]string(nil), user.Roles...),
		TokenID:  claims.ID,
	}, nil
}

// Refresh exchanges a refresh token for a new session on the same tenant.
func (s *Service) Refresh(ctx context.Context, raw string) (*Session, error) {
	session, err := s.refresh(ctx, raw)
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("refresh", "failure").Inc()
		return nil, err
	}
	metrics.AuthEventsTotal.WithLabelValues("refresh", "success").Inc()
	return session, nil
}

func (s *Service) refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenRefresh {
		return nil, ErrWrongTokenType
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if user.TenantID != "" && claims.TenantID != "" && claims.TenantID != user.TenantID {
		return nil, ErrTenantMismatch
	}
	tenantID := firstNonEmpty(claims.TenantID, user.TenantID)
	if tenantID != "" && !s.tenantUsable(ctx, tenantID) {
		return nil, ErrTenantUnavailable
	}
	return s.issueSession(user, tenantID)
}

// Logout records the end of a session. Tokens are stateless and stay valid
// until they expire.
func (s *Service) Logout(_ context.Context, p *Principal) {
	metrics.AuthEventsTotal.WithLabelValues("logout", "success").Inc()
	s.logger.Info("user logged out", "user_id", p.UserID, "tenant_id", p.TenantID, "token_id", p.TokenID)
}

// Me returns the user behind a principal.
func (s *Service) Me(ctx context.Context, p *Principal) (*User, error) {
	return s.users.GetByID(ctx, p.UserID)
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidUser)
	}
	for _, r := range req.Roles {
		if r != RoleAdmin && r != RoleUser {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, r)
		}
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	if req.TenantID != "" && s.limiter != nil {
		current, err := s.users.CountByTenant(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
		if !s.limiter.CheckUserLimit(req.TenantID, current) {
			metrics.QuotaRejectionsTotal.WithLabelValues("users").Inc()
			return nil, ErrUserLimit
		}
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	now := s.now().UTC()
	user := &User{
		ID:            idgen.WithPrefix("usr_"),
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		TenantID:      req.TenantID,
		Roles:         append([]string(nil), roles...),
		IsActive:      true,
		IsTenantAdmin: req.IsTenantAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "tenant_id", user.TenantID)
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	return s.setPassword(ctx, user, next)
}

// ResetPassword sets a new password without the current one (admin only).
func (s *Service) ResetPassword(ctx context.Context, userID, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user, next)
}

func (s *Service) setPassword(ctx context.Context, user *User, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	s.logger.Info("password changed", "user_id", user.ID)
	return nil
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, userID string, active bool) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.IsActive = active
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers lists accounts bound to tenantID; empty lists all.
func (s *Service) ListUsers(ctx context.Context, tenantID string, limit, offset int) ([]*User, error) {
	return s.users.List(ctx, tenantID, limit, offset)
}

// CountUsers counts the accounts bound to tenantID.
func (s *Service) CountUsers(ctx context.Context, tenantID string) (int, error) {
	return s.users.CountByTenant(ctx, tenantID)
}

func (s *Service) tenantUsable(ctx context.Context, tenantID string) bool {
	if s.tenants == nil {
		return true
	}
	return s.tenants.CheckTenantAccess(ctx, tenantID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
