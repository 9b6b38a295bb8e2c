// Package common holds constants, sentinel errors and the kinded error type
// shared by the GophAuth server, its transports and the CLI client.
package common

const (
	// AccessTokenCookie and RefreshTokenCookie name the HTTP-only cookies that
	// carry the token pair.
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	// AuthorizationHeader is the HTTP header and gRPC metadata key holding
	// "Bearer <token>".
	AuthorizationHeader = "authorization"

	// CookieHeader is the gRPC metadata key a gateway may forward cookies in.
	CookieHeader = "cookie"

	BearerScheme = "Bearer"
)
