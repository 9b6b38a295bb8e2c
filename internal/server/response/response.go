// Package response builds the JSON envelope every HTTP endpoint answers with.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/gophauth/internal/common"
)

// Envelope is the wire shape of both outcomes. Errors is omitted on success;
// Data is always present and null on failure.
type Envelope struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors,omitempty"`
	Data       any      `json:"data"`
	Success    bool     `json:"success"`
}

func Success(status int, message string, data any) Envelope {
	if data == nil {
		data = struct{}{}
	}
	return Envelope{StatusCode: status, Message: message, Data: data, Success: status < http.StatusBadRequest}
}

// Failure always carries a non-nil errors list.
func Failure(status int, message string, errs ...string) Envelope {
	if errs == nil {
		errs = []string{}
	}
	return Envelope{StatusCode: status, Message: message, Errors: errs, Data: nil, Success: false}
}

// FromError converts any error into a failure envelope. Causes of internal
// errors are never exposed.
func FromError(err error) Envelope {
	e := common.AsError(err)
	return Failure(e.Kind.HTTPStatus(), e.Message, e.Details...)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Success {
		return json.Marshal(plain(e))
	}
	errs := e.Errors
	if errs == nil {
		errs = []string{}
	}
	return json.Marshal(struct {
		StatusCode int      `json:"statusCode"`
		Message    string   `json:"message"`
		Errors     []string `json:"errors"`
		Data       any      `json:"data"`
		Success    bool     `json:"success"`
	}{e.StatusCode, e.Message, errs, nil, false})
}

// Write sends env with its status code.
func Write(w http.ResponseWriter, env Envelope) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	return json.NewEncoder(w).Encode(env)
}
