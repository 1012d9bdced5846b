package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

type AuthService struct {
	jwtSecret    []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	passwordCost int

	users  UserStore
	tokens RefreshTokenStore
	audit  *AuditService
	now    func() time.Time

	// dummyHash keeps login timing flat when the email is unknown.
	dummyHash []byte
}

func NewAuthService(jwtSecret string, accessTTL time.Duration, refreshTTL time.Duration, passwordCost int, users UserStore, tokens RefreshTokenStore, audit *AuditService) (*AuthService, error) {
	if strings.TrimSpace(jwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if passwordCost < bcrypt.MinCost {
		passwordCost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("prepare password hasher: %w", err)
	}

	return &AuthService{
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		passwordCost: passwordCost,
		users:        users,
		tokens:       tokens,
		audit:        audit,
		now:          func() time.Time { return time.Now().UTC() },
		dummyHash:    dummy,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string, meta model.RequestMeta) (model.TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.TokenPair{}, model.ErrInvalidInput.WithDetails("email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, err
	}

	hash := s.dummyHash
	if err == nil {
		hash = []byte(user.PasswordHash)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || err != nil {
		entry := model.NewAuditEntry(model.AuditUserLoginFailed, meta, s.now())
		entry.UserID = user.ID
		entry.EventData = map[string]any{"email": strings.ToLower(email)}
		s.audit.Record(ctx, entry)

		slog.Warn("login failed", "email", strings.ToLower(email), "ip", meta.IP)
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	entry := model.NewAuditEntry(model.AuditUserLogin, meta, s.now())
	entry.UserID = user.ID
	s.audit.Record(ctx, entry)

	return pair, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair issued. Presenting it a second time fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.ValidateToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}

	ownerID, err := s.tokens.Consume(ctx, hashToken(refreshToken), s.now())
	if err != nil {
		return model.TokenPair{}, err
	}
	if ownerID != claims.UserID {
		return model.TokenPair{}, model.ErrTokenNotFound
	}

	user, err := s.users.FindByID(ctx, ownerID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	return s.issueTokenPair(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, hashToken(refreshToken))
}

func (s *AuthService) ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claimsMap := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, claimsMap, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, model.ErrTokenNotFound
	}

	typ, _ := claimsMap["typ"].(string)
	if expectedType != "" && typ != expectedType {
		return nil, model.ErrUnauthorized.WithDetails("invalid token type")
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, model.ErrUnauthorized.WithDetails("invalid token subject")
	}

	return claims, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, userID string) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}
	return user.Public(), nil
}

func (s *AuthService) SetRole(ctx context.Context, actorID string, userID string, role string, meta model.RequestMeta) (model.AuthUser, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !model.ValidRole(role) {
		return model.AuthUser{}, model.ErrInvalidInput.WithDetails("role must be 'user' or 'admin'")
	}

	current, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.AuthUser{}, err
	}

	now := s.now()
	entry := model.NewAuditEntry(model.AuditUserRoleChanged, meta, now)
	entry.UserID = userID
	entry.EventData = map[string]any{"from": current.Role, "to": role, "changed_by": actorID}

	updated, err := s.users.UpdateRole(ctx, userID, role, now, entry)
	if err != nil {
		return model.AuthUser{}, err
	}

	slog.Info("user role changed", "user_id", userID, "role", role, "actor_id", actorID)
	return updated.Public(), nil
}

// EnsureBootstrapAdmin seeds the first administrator when no user exists.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context, email string, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}

	now := s.now()
	admin := model.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		FullName:     "Administrator",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	entry := model.NewAuditEntry(model.AuditUserCreated, model.RequestMeta{}, now)
	entry.UserID = admin.ID
	entry.EventData = map[string]any{"role": model.RoleAdmin, "source": "bootstrap"}

	if err := s.users.Create(ctx, admin, entry); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	slog.Info("bootstrap admin created", "email", admin.Email)
	return nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return "", model.ErrInvalidInput.WithDetails(
			fmt.Sprintf("password must be %d to %d bytes", minPasswordLength, maxPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// NewTokenPair signs a pair for user without persisting the refresh token,
// for callers that store it inside their own transaction.
func (s *AuthService) NewTokenPair(user model.User) (model.TokenPair, model.RefreshToken, error) {
	now := s.now()

	accessToken, err := s.signToken(user, tokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return model.TokenPair{}, model.RefreshToken{}, err
	}
	refreshToken, err := s.signToken(user, tokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return model.TokenPair{}, model.RefreshToken{}, err
	}

	pair := model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User:         user.Public(),
	}
	stored := model.RefreshToken{
		TokenHash: hashToken(refreshToken),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return pair, stored, nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, user model.User) (model.TokenPair, error) {
	pair, stored, err := s.NewTokenPair(user)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.tokens.Store(ctx, stored); err != nil {
		return model.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

func (s *AuthService) signToken(user model.User, typ string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"typ":   typ,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
