// Package cli provides the interactive GophAuth command-line client.
//
// It wires configuration, the local session store and the gRPC client into
// a small REPL:
//   - register / login / logout
//   - whoami, which shows the current profile
//   - refresh, which rotates the token pair on demand
//
// A refresh token saved by an earlier run is picked up on start, so the user
// stays logged in until the server rejects it. Every rotation, including the
// automatic ones done by the client, is written back to the store.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
