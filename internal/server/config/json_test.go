package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON_SourcesAndPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":              ":8081",
		"endpoint_addr_grpc":              "www.example:9000",
		"storage":                         "memory",
		"database_dsn":                    "postgres://db",
		"access_token_secret":             "a-secret",
		"refresh_token_secret":            "r-secret",
		"access_token_validity_duration":  "1m",
		"refresh_token_validity_duration": "72h",
		"bcrypt_cost":                     11,
		"secure_cookies":                  false,
		"s3_root_user":                    "user",
		"s3_root_password":                "password",
		"s3_bucket":                       "bucket",
		"s3_region":                       "region",
		"s3_base_endpoint":                "base_endpoint",
	})

	t.Run("loads from json", func(t *testing.T) {
		cfg := &Config{SecureCookies: true}
		require.NoError(t, parseJSON(cfg, []string{"-config", path}))

		assert.Equal(t, ":8081", cfg.EndpointAddrHTTP)
		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, "memory", cfg.Storage)
		assert.Equal(t, "postgres://db", cfg.DatabaseDSN)
		assert.Equal(t, "a-secret", cfg.AccessTokenSecret)
		assert.Equal(t, "r-secret", cfg.RefreshTokenSecret)
		assert.Equal(t, 1*time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 72*time.Hour, cfg.RefreshTokenValidityDuration)
		assert.Equal(t, 11, cfg.BcryptCost)
		assert.False(t, cfg.SecureCookies)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
	})

	t.Run("no config flag leaves values alone", func(t *testing.T) {
		cfg := &Config{EndpointAddrGRPC: "defaults:1234", AccessTokenSecret: "key", SecureCookies: true}
		require.NoError(t, parseJSON(cfg, nil))

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrGRPC)
		assert.Equal(t, "key", cfg.AccessTokenSecret)
		assert.True(t, cfg.SecureCookies)
	})

	t.Run("partial file keeps other values", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{"log_level": "debug"})
		cfg := &Config{}
		cfg.LoadDefaults()
		require.NoError(t, parseJSON(cfg, []string{"-c", partial}))

		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 15*time.Minute, cfg.AccessTokenValidityDuration)
		assert.True(t, cfg.SecureCookies)
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		require.Error(t, parseJSON(&Config{}, []string{"-config", bad}))
	})

	t.Run("missing file returns error", func(t *testing.T) {
		require.Error(t, parseJSON(&Config{}, []string{"-c", filepath.Join(dir, "nope.json")}))
	})
}
