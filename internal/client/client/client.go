package client

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/client/models"
)

type Client interface {
	Close() error
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, identifier, password string) (*models.User, error)
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*models.User, error)
	RefreshToken() string
	SetRefreshToken(token string)
}
