// Package auth implements authentication and user administration:
// JWT-based login sessions, administrator-managed user accounts, and
// single-use password reset tokens.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinsync/patient-registry/pkg/config"
	"github.com/clinsync/patient-registry/pkg/interfaces"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/monitoring"
	"github.com/clinsync/patient-registry/pkg/types"
)

// ResetTokenStore persists single-use password reset tokens
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, token *types.PasswordResetToken) error
	GetResetToken(ctx context.Context, token string) (*types.PasswordResetToken, error)
	MarkResetTokenUsed(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

const resetTokenTTL = time.Hour

// Service implements authentication and user administration
type Service struct {
	config    *config.JWTConfig
	logger    *logger.Logger
	users     interfaces.UserRepository
	passwords interfaces.PasswordManager
	audit     interfaces.AuditLog
	resets    ResetTokenStore
	metrics   *monitoring.MetricsCollector
}

// NewService creates a new auth service. The reset token store is
// optional; without it password recovery endpoints report an internal
// error.
func NewService(cfg *config.JWTConfig, log *logger.Logger, users interfaces.UserRepository,
	passwords interfaces.PasswordManager, auditLog interfaces.AuditLog, resets ResetTokenStore) *Service {

	return &Service{
		config:    cfg,
		logger:    log,
		users:     users,
		passwords: passwords,
		audit:     auditLog,
		resets:    resets,
	}
}

// SetMetrics wires the metrics collector
func (s *Service) SetMetrics(metrics *monitoring.MetricsCollector) {
	s.metrics = metrics
}

// EnsureBootstrapAdmin creates the initial administrator account so a
// fresh deployment can be logged into. It is a no-op when any account
// already exists or when no bootstrap credentials are configured.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.users.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	user, err := s.CreateUser(ctx, &types.CreateUserRequest{
		Email:    email,
		Password: password,
		Role:     types.RoleAdministrator,
	}, nil, &types.RequestMeta{IPAddress: "system"})
	if err != nil {
		return err
	}

	s.logger.WithField("email", user.Email).Info("Bootstrap administrator created")
	return nil
}

type tokenClaims struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email"`
	Role   types.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Login verifies credentials and issues an access token. Disabled
// accounts and unknown emails both surface the same invalid-credentials
// error.
func (s *Service) Login(ctx context.Context, creds *types.Credentials) (*types.AuthToken, *types.User, error) {
	invalid := types.NewAuthenticationError(types.ErrCodeInvalidCredentials, "invalid email or password")

	user, err := s.users.GetByEmail(ctx, creds.Email)
	if err != nil {
		if types.IsNotFound(err) {
			s.recordAuthAttempt(false)
			return nil, nil, invalid
		}
		return nil, nil, err
	}

	ok, err := s.passwords.VerifyPassword(user.PasswordHash, creds.Password)
	if err != nil {
		return nil, nil, types.NewInternalError(types.ErrCodeInternalError, "password verification failed", err)
	}
	if !ok || !user.IsActive {
		s.recordAuthAttempt(false)
		return nil, nil, invalid
	}
	s.recordAuthAttempt(true)

	token, err := s.issueToken(user)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.RecordLogin(ctx, user.ID); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to record login time")
	}

	s.logger.WithField("user_id", user.ID).Info("User logged in")
	return token, user, nil
}

// ValidateToken parses an access token and loads its user. Tokens for
// accounts disabled after issuance are rejected.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.User, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return nil, types.NewAuthenticationError(types.ErrCodeNotAuthenticated, "invalid or expired token")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, types.NewAuthenticationError(types.ErrCodeNotAuthenticated, "token user no longer exists")
	}
	if !user.IsActive {
		return nil, types.NewAuthenticationError(types.ErrCodeNotAuthenticated, "account is disabled")
	}

	return user, nil
}

// CreateUser registers a new account on behalf of an administrator
func (s *Service) CreateUser(ctx context.Context, req *types.CreateUserRequest, actor *types.User, meta *types.RequestMeta) (*types.User, error) {
	if err := validateCreateUser(req); err != nil {
		return nil, err
	}

	hash, err := s.passwords.HashPassword(req.Password)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to hash password", err)
	}

	user := &types.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, actor, meta, &types.AuditEntry{
		Action:      types.ActionCreateUser,
		EntityType:  types.EntityUser,
		EntityID:    user.ID,
		EntityLabel: user.Email,
		Changes: map[string]types.FieldChange{
			"email": {From: nil, To: user.Email},
			"role":  {From: nil, To: string(user.Role)},
		},
	})

	return user, nil
}

// SetUserActive enables or disables an account. Administrators cannot
// disable their own account.
func (s *Service) SetUserActive(ctx context.Context, userID string, active bool, actor *types.User, meta *types.RequestMeta) (*types.User, error) {
	if actor != nil && actor.ID == userID && !active {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			"cannot disable your own account", nil)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := user.IsActive

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return nil, err
	}
	user.IsActive = active

	if previous != active {
		s.appendAudit(ctx, actor, meta, &types.AuditEntry{
			Action:      types.ActionToggleUserStatus,
			EntityType:  types.EntityUser,
			EntityID:    user.ID,
			EntityLabel: user.Email,
			Changes: map[string]types.FieldChange{
				"is_active": {From: previous, To: active},
			},
		})
	}

	return user, nil
}

// ListUsers returns all accounts
func (s *Service) ListUsers(ctx context.Context) ([]*types.User, error) {
	return s.users.List(ctx)
}

// RequestPasswordReset issues a single-use reset token for the account.
// Unknown emails succeed silently so the endpoint does not leak which
// addresses are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*types.PasswordResetToken, error) {
	if s.resets == nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "password reset is not configured", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	value, err := GenerateResetToken()
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to generate reset token", err)
	}

	token := &types.PasswordResetToken{
		UserID:    user.ID,
		Token:     value,
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	}
	if err := s.resets.CreateResetToken(ctx, token); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("Password reset token issued")
	return token, nil
}

// ResetPassword consumes a reset token and replaces the password
func (s *Service) ResetPassword(ctx context.Context, tokenValue, newPassword string) error {
	if s.resets == nil {
		return types.NewInternalError(types.ErrCodeInternalError, "password reset is not configured", nil)
	}
	if len(newPassword) < 6 {
		return types.NewValidationError(types.ErrCodeInvalidInput,
			"password must be at least 6 characters", nil)
	}

	token, err := s.resets.GetResetToken(ctx, tokenValue)
	if err != nil {
		return err
	}
	if token.Used || time.Now().UTC().After(token.ExpiresAt) {
		return types.NewValidationError(types.ErrCodeInvalidInput, "reset token expired or already used", nil)
	}

	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "failed to hash password", err)
	}

	if err := s.resets.MarkResetTokenUsed(ctx, token.ID); err != nil {
		return err
	}
	return s.resets.UpdatePassword(ctx, token.UserID, hash)
}

func (s *Service) issueToken(user *types.User) (*types.AuthToken, error) {
	now := time.Now().UTC()
	ttl := time.Duration(s.config.AccessTokenTTL) * time.Second

	claims := &tokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.SecretKey))
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to sign token", err)
	}

	return &types.AuthToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		IssuedAt:    now,
	}, nil
}

func (s *Service) appendAudit(ctx context.Context, actor *types.User, meta *types.RequestMeta, entry *types.AuditEntry) {
	if actor != nil {
		entry.ActorEmail = actor.Email
	}
	if meta != nil {
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
	}
	err := s.audit.Append(ctx, entry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to append user admin audit entry")
	}
	if s.metrics != nil {
		s.metrics.RecordAuditEvent(string(entry.Action), err == nil)
	}
}

func (s *Service) recordAuthAttempt(success bool) {
	if s.metrics == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	s.metrics.RecordAuthAttempt("password", status)
}

func validateCreateUser(req *types.CreateUserRequest) error {
	details := make(map[string]interface{})

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		details["email"] = "valid email is required"
	}
	if len(req.Password) < 6 {
		details["password"] = "password must be at least 6 characters"
	}
	if req.Role != types.RoleResearcher && req.Role != types.RoleAdministrator {
		details["role"] = "role must be researcher or administrator"
	}

	if len(details) > 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "invalid user data", details)
	}
	return nil
}
