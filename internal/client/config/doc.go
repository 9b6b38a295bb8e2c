// Package config loads runtime configuration for the GophAuth CLI.
//
// Sources, lowest precedence first: built-in defaults, an optional JSON file
// selected with -c or -config, and command-line flags.
//
//	-a string   address:port of the gRPC endpoint
//	-f string   path of the local session database
//	-t int      per-request timeout (seconds)
//
// The JSON file uses timex.Duration, so the timeout may be "5s" or integer
// nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "session_db_path": "/home/me/.gophauth.db",
//	  "request_timeout": "5s"
//	}
package config
