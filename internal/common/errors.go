package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Token errors. Expired is split out so callers can log it separately;
	// everything else (bad signature, wrong algorithm, garbage) is invalid.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrEmptyPassword = errors.New("empty password")
)
