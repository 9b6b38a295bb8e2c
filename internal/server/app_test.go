package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/config"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.Storage = config.StorageMemory
	c.EndpointAddrHTTP = "127.0.0.1:0"
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.S3BaseEndpoint = ""
	c.BcryptCost = 4
	return c
}

func TestNewApp_MemoryStorage_RunsAndStops(t *testing.T) {
	app, err := newApp(context.Background(), memoryConfig(), logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewApp_PostgresFailure(t *testing.T) {
	orig := newPostgresManager
	t.Cleanup(func() { newPostgresManager = orig })
	newPostgresManager = func(context.Context, string) (repomanager.RepositoryManager, error) {
		return nil, errors.New("connection refused")
	}

	c := memoryConfig()
	c.Storage = config.StoragePostgres
	_, err := newApp(context.Background(), c, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db init error")
}

func TestNewApp_UsesPostgresManager(t *testing.T) {
	orig := newPostgresManager
	t.Cleanup(func() { newPostgresManager = orig })
	called := false
	newPostgresManager = func(context.Context, string) (repomanager.RepositoryManager, error) {
		called = true
		return repomanager.NewInMemoryRepositoryManager(), nil
	}

	c := memoryConfig()
	c.Storage = config.StoragePostgres
	_, err := newApp(context.Background(), c, logging.Discard())
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRun_FailsOnBadAddress(t *testing.T) {
	c := memoryConfig()
	c.EndpointAddrHTTP = "127.0.0.1:99999"
	app, err := newApp(context.Background(), c, logging.Discard())
	require.NoError(t, err)

	select {
	case err := <-runAsync(app):
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not fail")
	}
}

func runAsync(app *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	return done
}
