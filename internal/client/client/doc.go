// Package client talks to the gophauth.v1.AuthService gRPC API. It keeps the
// current token pair, attaches the access token to guarded calls and, when
// such a call fails with Unauthenticated, refreshes once and retries.
package client
