package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUser() *User {
	return &User{
		ID:            "7b0c1c1e-3f3a-4f7e-9a43-0d5f6f1f2a10",
		Email:         "a@x.com",
		UserName:      "alice",
		DisplayName:   "A",
		PasswordHash:  "$2a$10$hash",
		Role:          RoleUser,
		RefreshTokens: []string{"digest-1"},
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestUser_PublicHidesSecrets(t *testing.T) {
	b, err := json.Marshal(sampleUser().Public())
	require.NoError(t, err)

	out := string(b)
	assert.NotContains(t, out, "password")
	assert.NotContains(t, out, "$2a$10$hash")
	assert.NotContains(t, out, "digest-1")
	assert.Contains(t, out, `"email":"a@x.com"`)
	assert.Contains(t, out, `"role":"user"`)
}

func TestUser_CloneDoesNotShareTokens(t *testing.T) {
	u := sampleUser()
	c := u.Clone()
	c.RefreshTokens[0] = "changed"

	assert.Equal(t, "digest-1", u.RefreshTokens[0])
}

func TestUser_Apply(t *testing.T) {
	u := sampleUser()
	url := "http://cdn/avatar.png"

	u.Apply(UserPatch{ProfileImageURL: &url})
	assert.Equal(t, url, u.ProfileImageURL)
	assert.Equal(t, []string{"digest-1"}, u.RefreshTokens, "nil field must be left alone")

	u.Apply(ReplaceRefreshTokens("digest-2"))
	assert.Equal(t, []string{"digest-2"}, u.RefreshTokens)

	u.Apply(ReplaceRefreshTokens())
	assert.Empty(t, u.RefreshTokens)
	assert.NotNil(t, u.RefreshTokens)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("root").Valid())
}
