package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/client/models"
	"github.com/dmitrijs2005/gophauth/internal/client/session"
	"github.com/dmitrijs2005/gophauth/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for the account fields and creates the account. It does
// not log in.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	displayName, err := getSimpleText(a.reader, "Enter display name", a.out)
	if err != nil {
		return err
	}
	userName, err := getSimpleText(a.reader, "Enter user name (optional)", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	user, err := a.client.Register(ctx, models.RegisterRequest{
		Email:       email,
		DisplayName: displayName,
		UserName:    userName,
		Password:    string(password),
	})
	if err != nil {
		printlnFn("Registration failed:", err.Error())
		return err
	}

	printlnFn("Registered", user.Email+". You can log in now.")
	return nil
}

// Login authenticates with an email or user name and saves the session so
// the next run can resume it.
func (a *App) Login(ctx context.Context) error {
	identifier, err := getSimpleText(a.reader, "Enter email or user name", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	user, err := a.client.Login(ctx, identifier, string(password))
	if err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			printlnFn("Server unavailable, try again later")
		} else {
			printlnFn("Login unsuccessful:", err.Error())
		}
		return err
	}

	a.user = user
	if err := a.store.Save(ctx, session.Session{
		UserID:       user.ID,
		Email:        user.Email,
		RefreshToken: a.client.RefreshToken(),
	}); err != nil {
		log.Printf("failed to save session: %s", err.Error())
	}

	printlnFn("Login successful")
	return nil
}

// WhoAmI prints the profile of the logged-in user as the server sees it.
func (a *App) WhoAmI(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	user, err := a.client.Me(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			a.forget(ctx)
			printlnFn("Session expired, please log in again")
		} else {
			printlnFn("Request failed:", err.Error())
		}
		return err
	}
	a.user = user

	printlnFn(fmt.Sprintf("ID:           %s", user.ID))
	printlnFn(fmt.Sprintf("Email:        %s", user.Email))
	if user.UserName != "" {
		printlnFn(fmt.Sprintf("User name:    %s", user.UserName))
	}
	printlnFn(fmt.Sprintf("Display name: %s", user.DisplayName))
	printlnFn(fmt.Sprintf("Role:         %s", user.Role))
	if user.ProfileImageURL != "" {
		printlnFn(fmt.Sprintf("Image:        %s", user.ProfileImageURL))
	}
	printlnFn(fmt.Sprintf("Member since: %s", user.CreatedAt.Format("2006-01-02")))
	return nil
}

// Refresh rotates the token pair. The rotation hook persists the new
// refresh token.
func (a *App) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	if err := a.client.Refresh(ctx); err != nil {
		if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, client.ErrNoSession) {
			a.forget(ctx)
			printlnFn("Session expired, please log in again")
		} else {
			printlnFn("Refresh failed:", err.Error())
		}
		return err
	}

	printlnFn("Tokens refreshed")
	return nil
}

// Logout ends the server session and clears the stored one. The local state
// is cleared even when the server call fails.
func (a *App) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout())
	defer cancel()

	err := a.client.Logout(ctx)
	if err != nil && !errors.Is(err, client.ErrUnauthorized) {
		log.Printf("server logout failed: %s", err.Error())
	}

	a.forget(ctx)
	printlnFn("Logged out")
	return err
}

func (a *App) forget(ctx context.Context) {
	a.user = nil
	a.client.SetRefreshToken("")
	if err := a.store.Clear(ctx); err != nil {
		log.Printf("failed to clear session: %s", err.Error())
	}
}
