// Package models defines the client-side view of the auth API payloads.
package models

import "time"

// User mirrors the sanitized user the server returns.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	UserName        string    `json:"userName,omitempty"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	Role            string    `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
}

type TokenPair struct {
	AccessToken           string    `json:"accessToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken          string    `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// LoginResult is the Login reply: the user plus a fresh token pair.
type LoginResult struct {
	User *User `json:"user"`
	TokenPair
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName,omitempty"`
	Password    string `json:"password"`
}
