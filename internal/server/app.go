// Package server assembles the auth core from configuration and runs its
// HTTP and gRPC transports until a shutdown signal arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"github.com/dmitrijs2005/gophauth/internal/server/httpapi"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/objectstore"
	"github.com/dmitrijs2005/gophauth/internal/server/password"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/gophauth/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   repomanager.RepositoryManager
	http    *httpapi.Server
	grpc    *gs.GRPCServer
	metrics *metrics.Metrics
}

var newPostgresManager = func(ctx context.Context, dsn string) (repomanager.RepositoryManager, error) {
	return repomanager.NewPostgresRepositoryManager(ctx, dsn)
}

// NewApp connects storage, runs migrations and builds both transports.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.NewJSON(os.Stdout, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var repos repomanager.RepositoryManager
	switch c.Storage {
	case config.StorageMemory:
		logger.Warn(ctx, "using in-memory storage; data is lost on restart")
		repos = repomanager.NewInMemoryRepositoryManager()
		if c.UsesPlaceholderSecrets() {
			logger.Warn(ctx, "token secrets are development placeholders; tokens can be forged by anyone")
		}
	default:
		m, err := newPostgresManager(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		repos = m
	}
	if err := repos.RunMigrations(ctx); err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	issuer, err := auth.NewIssuer(auth.Settings{
		AccessSecret:  []byte(c.AccessTokenSecret),
		AccessTTL:     c.AccessTokenValidityDuration,
		RefreshSecret: []byte(c.RefreshTokenSecret),
		RefreshTTL:    c.RefreshTokenValidityDuration,
	})
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	m := metrics.New()
	opts := []services.Option{services.WithMetrics(m)}

	if c.S3BaseEndpoint != "" {
		uploader, err := objectstore.NewS3Uploader(ctx, objectstore.S3Settings{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			_ = repos.Close()
			return nil, fmt.Errorf("object store init error: %w", err)
		}
		opts = append(opts, services.WithUploader(uploader))
	} else {
		logger.Info(ctx, "profile image uploads disabled")
	}

	sessions, err := services.NewUserService(repos.Users(), password.NewBcryptHasher(c.BcryptCost), issuer,
		logger.With("module", "user_service"), opts...)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}
	g := guard.New(issuer, repos.Users(), logger.With("module", "guard"), m)

	handler := httpapi.NewHandler(sessions, g, logger.With("module", "http"), httpapi.Options{
		SecureCookies:  c.SecureCookies,
		RequestTimeout: c.RequestTimeout,
		MaxUploadBytes: c.MaxUploadBytes,
		Metrics:        m.Handler(),
	})

	return &App{
		config:  c,
		logger:  logger,
		repos:   repos,
		http:    httpapi.NewServer(c.EndpointAddrHTTP, handler.Router(), logger),
		grpc:    gs.NewGRPCServer(c.EndpointAddrGRPC, logger, sessions, g),
		metrics: m,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until ctx is cancelled, a signal arrives or a transport fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.http.Run(gctx) })
	g.Go(func() error { return app.grpc.Run(gctx) })

	err := g.Wait()
	if cerr := app.repos.Close(); cerr != nil {
		app.logger.Warn(ctx, "closing storage", "error", cerr)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
