// Package auth issues and verifies the access/refresh JWT pair. Each kind is
// signed with its own secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims is shared by both token kinds. Refresh tokens carry only the
// registered claims; the profile fields stay empty.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	DisplayName string      `json:"name,omitempty"`
	UserName    string      `json:"username,omitempty"`
	Role        models.Role `json:"role,omitempty"`
}

// Subject is what an access token says about its holder.
type Subject struct {
	ID          string
	Email       string
	DisplayName string
	UserName    string
	Role        models.Role
}

func SubjectOf(u *models.User) Subject {
	return Subject{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		UserName:    u.UserName,
		Role:        u.Role,
	}
}

type Settings struct {
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
}

type Issuer struct {
	settings Settings
	now      func() time.Time
}

type Option func(*Issuer)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(s Settings, opts ...Option) (*Issuer, error) {
	if len(s.AccessSecret) == 0 || len(s.RefreshSecret) == 0 {
		return nil, errors.New("auth: both signing secrets are required")
	}
	if string(s.AccessSecret) == string(s.RefreshSecret) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if s.AccessTTL <= 0 || s.RefreshTTL <= 0 {
		return nil, errors.New("auth: token validity must be positive")
	}
	i := &Issuer{settings: s, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Issuer) IssueAccessToken(s Subject) (string, time.Time, error) {
	if s.ID == "" {
		return "", time.Time{}, errors.New("auth: subject id is required")
	}
	claims := Claims{
		Email:       s.Email,
		DisplayName: s.DisplayName,
		UserName:    s.UserName,
		Role:        s.Role,
	}
	return i.sign(claims, s.ID, i.settings.AccessTTL, i.settings.AccessSecret)
}

func (i *Issuer) IssueRefreshToken(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, errors.New("auth: subject id is required")
	}
	return i.sign(Claims{}, subjectID, i.settings.RefreshTTL, i.settings.RefreshSecret)
}

func (i *Issuer) sign(claims Claims, subjectID string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry with the secret for kind. It returns
// common.ErrTokenExpired for an otherwise valid but expired token and
// common.ErrInvalidToken for any other failure.
func (i *Issuer) Verify(token string, kind TokenKind) (*Claims, error) {
	var secret []byte
	switch kind {
	case AccessToken:
		secret = i.settings.AccessSecret
	case RefreshToken:
		secret = i.settings.RefreshSecret
	default:
		return nil, fmt.Errorf("auth: unknown token kind %q", kind)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
