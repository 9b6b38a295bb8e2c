package services

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/password"
	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	handlePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,30}$`)
)

const minPasswordLength = 6

// RegisterInput is the typed registration payload. ProfileImagePath, when
// set, names a local file the transport already received.
type RegisterInput struct {
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	UserName         string `json:"userName"`
	Password         string `json:"password"`
	ProfileImagePath string `json:"-"`
}

func (in *RegisterInput) normalize() {
	in.Email = normalizeIdentifier(in.Email)
	in.UserName = normalizeIdentifier(in.UserName)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), validation.Match(emailPattern)),
		validation.Field(&in.DisplayName, validation.Required, validation.RuneLength(1, 100)),
		validation.Field(&in.UserName, validation.Match(handlePattern)),
		validation.Field(&in.Password, validation.Required, validation.Length(minPasswordLength, password.MaxLength)),
	)
}

// LoginInput identifies the user by email or user name.
type LoginInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (in *LoginInput) normalize() {
	in.Identifier = normalizeIdentifier(in.Identifier)
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Identifier, validation.Required),
		validation.Field(&in.Password, validation.Required, validation.Length(0, password.MaxLength)),
	)
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validationFailure turns ozzo field errors into a ValidationError with one
// "field: problem" detail per failing field.
func validationFailure(err error) error {
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return common.InternalError(err)
	}
	details := make([]string, 0, len(fields))
	for name, fe := range fields {
		details = append(details, name+": "+fe.Error())
	}
	sort.Strings(details)
	return common.ValidationError("invalid input", details...)
}
