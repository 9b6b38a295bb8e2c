// Package models defines the server-side records handled by the stores and
// services.
package models

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles. The stores refuse to
// create a user with any other value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the stored identity record. RefreshTokens holds digests of the
// currently valid refresh tokens, never the tokens themselves.
type User struct {
	ID              string    `db:"id"`
	Email           string    `db:"email"`
	UserName        string    `db:"username"`
	DisplayName     string    `db:"display_name"`
	PasswordHash    string    `db:"password_hash"`
	ProfileImageURL string    `db:"profile_image_url"`
	Role            Role      `db:"role"`
	RefreshTokens   []string  `db:"-"`
	CreatedAt       time.Time `db:"created_at"`
}

// Clone returns a deep copy so stores can hand out records without sharing
// the token slice.
func (u *User) Clone() *User {
	c := *u
	c.RefreshTokens = slices.Clone(u.RefreshTokens)
	return &c
}

// Public strips the password hash and refresh tokens.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		UserName:        u.UserName,
		DisplayName:     u.DisplayName,
		ProfileImageURL: u.ProfileImageURL,
		Role:            u.Role,
		CreatedAt:       u.CreatedAt,
	}
}

// Apply writes the non-nil fields of p onto u.
func (u *User) Apply(p UserPatch) {
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.ProfileImageURL != nil {
		u.ProfileImageURL = *p.ProfileImageURL
	}
	if p.RefreshTokens != nil {
		u.RefreshTokens = slices.Clone(*p.RefreshTokens)
	}
}

// PublicUser is the sanitized view returned to clients.
type PublicUser struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	UserName        string    `json:"userName,omitempty"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	Role            Role      `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UserPatch lists the mutable fields of a User; nil means "leave as is".
// A non-nil empty RefreshTokens clears the set.
type UserPatch struct {
	PasswordHash    *string
	ProfileImageURL *string
	RefreshTokens   *[]string
}

// ReplaceRefreshTokens builds a patch that replaces the stored set.
func ReplaceRefreshTokens(digests ...string) UserPatch {
	tokens := append([]string{}, digests...)
	return UserPatch{RefreshTokens: &tokens}
}
