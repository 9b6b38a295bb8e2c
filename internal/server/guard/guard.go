// Package guard authenticates requests by their access token. Both the HTTP
// middleware and the gRPC interceptor delegate here.
package guard

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Credentials are the raw token carriers of a request: the accessToken
// cookie value and the Authorization header.
type Credentials struct {
	Cookie        string
	Authorization string
}

type TokenVerifier interface {
	Verify(token string, kind auth.TokenKind) (*auth.Claims, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type Guard struct {
	tokens  TokenVerifier
	users   UserFinder
	logger  logging.Logger
	metrics metrics.Recorder
}

func New(tokens TokenVerifier, users UserFinder, logger logging.Logger, rec metrics.Recorder) *Guard {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Guard{tokens: tokens, users: users, logger: logger, metrics: rec}
}

// Authenticate resolves the caller. The cookie wins over the header.
func (g *Guard) Authenticate(ctx context.Context, c Credentials) (user *models.PublicUser, err error) {
	defer func() { g.metrics.Observe("authorize", err) }()

	token := strings.TrimSpace(c.Cookie)
	if token == "" {
		token = ExtractBearer(c.Authorization)
	}
	if token == "" {
		return nil, common.AuthError("no token", nil)
	}

	claims, err := g.tokens.Verify(token, auth.AccessToken)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, common.ErrTokenExpired) {
			reason = "expired"
		}
		g.logger.Debug(ctx, "access token rejected", "reason", reason)
		return nil, common.AuthError("invalid token", err)
	}

	u, err := g.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.AuthError("unauthorized", err)
		}
		return nil, common.InternalError(err)
	}
	return u.Public(), nil
}

// ExtractBearer returns the token of a "Bearer <token>" header value, or ""
// for any other scheme.
func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, common.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *models.PublicUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the user attached by WithUser.
func UserFromContext(ctx context.Context) (*models.PublicUser, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.PublicUser)
	return u, ok && u != nil
}
