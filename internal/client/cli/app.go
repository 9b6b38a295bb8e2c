package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/client/config"
	"github.com/dmitrijs2005/gophauth/internal/client/models"
	"github.com/dmitrijs2005/gophauth/internal/client/session"
)

// sessionStore is the part of *session.Store the CLI needs.
type sessionStore interface {
	Save(ctx context.Context, s session.Session) error
	UpdateRefreshToken(ctx context.Context, token string) error
	Load(ctx context.Context) (*session.Session, error)
	Clear(ctx context.Context) error
	Close() error
}

type App struct {
	config *config.Config
	client client.Client
	store  sessionStore
	reader *bufio.Reader
	out    io.Writer
	user   *models.User
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	store, err := session.Open(ctx, c.SessionDBPath)
	if err != nil {
		log.Printf("error opening session store: %s", err.Error())
		return nil, err
	}

	a := &App{config: c, store: store, reader: bufio.NewReader(os.Stdin), out: os.Stdout}

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr, client.WithRotationHook(a.persistRotation))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.client = apiClient

	return a, nil
}

// persistRotation keeps the stored refresh token in step with the client.
func (a *App) persistRotation(p models.TokenPair) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout())
	defer cancel()
	if err := a.store.UpdateRefreshToken(ctx, p.RefreshToken); err != nil {
		log.Printf("failed to save refresh token: %s", err.Error())
	}
}

func (a *App) timeout() time.Duration {
	if a.config == nil || a.config.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return a.config.RequestTimeout
}

func (a *App) Run(ctx context.Context) {
	defer func() {
		if err := a.client.Close(); err != nil {
			log.Printf("error closing client: %s", err.Error())
		}
		if err := a.store.Close(); err != nil {
			log.Printf("error closing session store: %s", err.Error())
		}
	}()

	if err := a.resume(ctx); err != nil {
		log.Printf("could not restore session: %s", err.Error())
	}

	printlnFn("Welcome to GophAuth CLI (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

// resume restores a saved login by asking the server who the stored refresh
// token belongs to. A rejected token wipes the store.
func (a *App) resume(ctx context.Context) error {
	sess, err := a.store.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	a.client.SetRefreshToken(sess.RefreshToken)

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	user, err := a.client.Me(ctx)
	if errors.Is(err, client.ErrUnauthorized) {
		a.client.SetRefreshToken("")
		return a.store.Clear(ctx)
	}
	if err != nil {
		return err
	}
	a.user = user
	return nil
}

func (a *App) isLoggedIn() bool {
	return a.user != nil
}

func (a *App) getStatus() string {
	if a.user == nil {
		return ""
	}
	return "(" + a.user.Email + ")"
}
