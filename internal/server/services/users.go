// Package services holds the session manager: registration, login, token
// refresh with rotation, and logout.
package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/objectstore"
	"github.com/dmitrijs2005/gophauth/internal/server/password"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
)

// TokenIssuer is the part of *auth.Issuer the service needs.
type TokenIssuer interface {
	IssueAccessToken(s auth.Subject) (string, time.Time, error)
	IssueRefreshToken(subjectID string) (string, time.Time, error)
	Verify(token string, kind auth.TokenKind) (*auth.Claims, error)
}

// TokenPair bundles a short-lived access token and a long-lived refresh
// token with their expiry times.
type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// Session is the result of a successful login.
type Session struct {
	User *models.PublicUser `json:"user"`
	TokenPair
}

type UserService struct {
	users    users.Repository
	hasher   password.Hasher
	tokens   TokenIssuer
	uploader objectstore.Uploader
	logger   logging.Logger
	metrics  metrics.Recorder

	// dummyHash is verified against when the user does not exist, so a
	// failed login costs the same either way.
	dummyHash string
}

type Option func(*UserService)

func WithUploader(u objectstore.Uploader) Option {
	return func(s *UserService) { s.uploader = u }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *UserService) { s.metrics = r }
}

func NewUserService(repo users.Repository, hasher password.Hasher, tokens TokenIssuer, logger logging.Logger, opts ...Option) (*UserService, error) {
	dummy, err := hasher.Hash("gophauth-timing-equalizer")
	if err != nil {
		return nil, err
	}
	s := &UserService{
		users:     repo,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		metrics:   metrics.Nop{},
		dummyHash: dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account and returns it without secrets.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (user *models.PublicUser, err error) {
	defer func() { s.metrics.Observe("register", err) }()

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	if err := s.ensureFree(ctx, in.Email, "email already registered"); err != nil {
		return nil, err
	}
	if in.UserName != "" {
		if err := s.ensureFree(ctx, in.UserName, "user name already taken"); err != nil {
			return nil, err
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, common.InternalError(err)
	}

	record := &models.User{
		Email:        in.Email,
		UserName:     in.UserName,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Role:         models.RoleUser,
	}

	var uploadedKey string
	if in.ProfileImagePath != "" {
		if s.uploader == nil {
			return nil, common.ValidationError("invalid input", "profileImage: uploads are disabled")
		}
		res, err := s.uploader.Upload(ctx, in.ProfileImagePath)
		if err != nil {
			return nil, common.InternalError(err)
		}
		record.ProfileImageURL = res.URL
		uploadedKey = res.Key
	}

	created, err := s.users.Create(ctx, record)
	if err != nil {
		if uploadedKey != "" {
			s.discardUpload(ctx, uploadedKey)
		}
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ConflictError("email or user name already registered")
		}
		return nil, common.InternalError(err)
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID)
	return created.Public(), nil
}

// discardUpload removes an image no user record will reference. It runs on
// a fresh context so a cancelled request still cleans up.
func (s *UserService) discardUpload(ctx context.Context, key string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.uploader.Delete(dctx, key); err != nil {
		s.logger.Error(ctx, "orphaned profile image", "key", key, "error", err)
	}
}

func (s *UserService) ensureFree(ctx context.Context, identifier, conflictMsg string) error {
	_, err := s.users.FindByEmailOrHandle(ctx, identifier)
	switch {
	case err == nil:
		return common.ConflictError(conflictMsg)
	case errors.Is(err, common.ErrorNotFound):
		return nil
	default:
		return common.InternalError(err)
	}
}

// Login checks the password and starts a new session. An unknown identifier
// and a wrong password produce the same error.
func (s *UserService) Login(ctx context.Context, in LoginInput) (session *Session, err error) {
	defer func() { s.metrics.Observe("login", err) }()

	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	user, err := s.users.FindByEmailOrHandle(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(in.Password, s.dummyHash)
			return nil, common.AuthError("invalid credentials", nil)
		}
		return nil, common.InternalError(err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, common.AuthError("invalid credentials", nil)
	}

	pair, updated, err := s.rotate(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return &Session{User: updated.Public(), TokenPair: *pair}, nil
}

// Refresh exchanges a current refresh token for a new pair. The presented
// token stops being valid as soon as the new one is stored.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() { s.metrics.Observe("refresh", err) }()

	if refreshToken == "" {
		return nil, common.AuthError("refresh token is required", nil)
	}

	claims, err := s.tokens.Verify(refreshToken, auth.RefreshToken)
	if err != nil {
		s.logger.Debug(ctx, "refresh token rejected", "reason", tokenFailureReason(err))
		return nil, common.AuthError("invalid refresh token", err)
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.AuthError("invalid refresh token", err)
		}
		return nil, common.InternalError(err)
	}

	if !containsDigest(user.RefreshTokens, digest(refreshToken)) {
		s.logger.Warn(ctx, "superseded refresh token presented", "user_id", user.ID)
		return nil, common.AuthError("refresh token is expired or used", nil)
	}

	pair, _, err = s.rotate(ctx, user)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout drops every stored refresh token of the user. Access tokens already
// handed out stay valid until they expire.
func (s *UserService) Logout(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.Observe("logout", err) }()

	if _, err := s.users.Update(ctx, userID, models.ReplaceRefreshTokens()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.NotFoundError("user not found")
		}
		return common.InternalError(err)
	}
	s.logger.Info(ctx, "user logged out", "user_id", userID)
	return nil
}

// Profile returns the sanitized user.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.PublicUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NotFoundError("user not found")
		}
		return nil, common.InternalError(err)
	}
	return user.Public(), nil
}

// rotate issues a pair and replaces the stored refresh token set with the
// new token's digest in a single store write.
func (s *UserService) rotate(ctx context.Context, user *models.User) (*TokenPair, *models.User, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(auth.SubjectOf(user))
	if err != nil {
		return nil, nil, common.InternalError(err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, nil, common.InternalError(err)
	}

	updated, err := s.users.Update(ctx, user.ID, models.ReplaceRefreshTokens(digest(refresh)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.AuthError("invalid credentials", err)
		}
		return nil, nil, common.InternalError(err)
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: refreshExp,
	}, updated, nil
}

// digest is what the store keeps instead of the refresh token.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func containsDigest(stored []string, want string) bool {
	found := false
	for _, d := range stored {
		if subtle.ConstantTimeCompare([]byte(d), []byte(want)) == 1 {
			found = true
		}
	}
	return found
}

func tokenFailureReason(err error) string {
	if errors.Is(err, common.ErrTokenExpired) {
		return "expired"
	}
	return "malformed"
}
