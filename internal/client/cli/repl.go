package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. *App satisfies it.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads commands from scanner and dispatches them to a until EOF or
// "exit"/"quit".
//
//	Not logged in:  help, register, login, exit
//	Logged in:      help, whoami, refresh, logout, exit
//
// Command errors are reported by the handlers themselves and do not stop
// the loop. Session commands typed while logged out, and the other way
// round, get a hint instead of a call.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ga %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: whoami, refresh, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register", "login":
			if a.isLoggedIn() {
				printlnFn("Already logged in, use logout first")
				continue
			}
			if cmd == "register" {
				_ = a.Register(ctx)
			} else {
				_ = a.Login(ctx)
			}

		case "whoami", "refresh", "logout":
			if !a.isLoggedIn() {
				printlnFn("Not logged in")
				continue
			}
			switch cmd {
			case "whoami":
				_ = a.WhoAmI(ctx)
			case "refresh":
				_ = a.Refresh(ctx)
			default:
				_ = a.Logout(ctx)
			}

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
