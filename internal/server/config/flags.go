package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
)

var serverFlags = []string{
	"-a", "-n", "-o", "-d", "-l", "-s", "-x", "-t", "-r", "-w", "-k",
	"-u", "-p", "-b", "-g", "-e",
}

// parseFlags overlays the flags it owns onto config. Token validity flags
// are whole minutes.
//
//	-a  HTTP bind address          -n  gRPC bind address
//	-o  storage (postgres|memory)  -d  PostgreSQL DSN
//	-l  log level                  -w  bcrypt cost
//	-s  access token secret        -x  refresh token secret
//	-t  access validity, minutes   -r  refresh validity, minutes
//	-k  secure cookies (-k=false for plain HTTP development)
//	-u -p -b -g -e  S3 user, password, bucket, region, endpoint
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP bind address")
	fs.StringVar(&config.EndpointAddrGRPC, "n", config.EndpointAddrGRPC, "gRPC bind address")
	fs.StringVar(&config.Storage, "o", config.Storage, "storage backend: postgres or memory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret")
	fs.StringVar(&config.RefreshTokenSecret, "x", config.RefreshTokenSecret, "refresh token secret")

	accessMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshMinutes := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")

	fs.IntVar(&config.BcryptCost, "w", config.BcryptCost, "bcrypt cost")
	fs.BoolVar(&config.SecureCookies, "k", config.SecureCookies, "mark auth cookies Secure")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return err
	}
	// "-k false" stops flag parsing at "false"; refuse rather than drop the rest.
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q: boolean flags take the -k=false form", fs.Arg(0))
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshMinutes) * time.Minute
		}
	})
	return nil
}
