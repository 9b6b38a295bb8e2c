// Package users is the credential store: persistence of user records and
// their refresh-token digests.
package users

import (
	"context"

	"github.com/dmitrijs2005/gophauth/internal/server/models"
)

// Repository is the store contract consumed by the session manager and the
// authorization guard. Lookups return common.ErrorNotFound when nothing
// matches; Create returns common.ErrorAlreadyExists when the email or handle
// is taken. Returned records are copies owned by the caller.
type Repository interface {
	// FindByEmailOrHandle matches value against the email and the user name.
	FindByEmailOrHandle(ctx context.Context, value string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// Update applies patch atomically and returns the updated record.
	Update(ctx context.Context, id string, patch models.UserPatch) (*models.User, error)
}
