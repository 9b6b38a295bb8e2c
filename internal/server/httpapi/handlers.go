package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/response"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
)

const profileImageField = "profileImage"

// maxJSONBytes caps JSON request bodies.
const maxJSONBytes = 64 << 10

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

type userData struct {
	User *models.PublicUser `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := h.readRegisterInput(w, r)
	defer cleanup()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.sessions.Register(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, r, response.Success(http.StatusCreated, "user registered successfully", userData{User: user}))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in services.LoginInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		h.fail(w, r, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setTokenCookies(w, session.TokenPair)
	h.write(w, r, response.Success(http.StatusOK, "user logged in successfully", session))
}

// RefreshToken takes the refresh token from its cookie, or from the JSON
// body when no cookie was sent.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(common.RefreshTokenCookie); err == nil && c.Value != "" {
		token = c.Value
	} else {
		var body refreshRequest
		if err := decodeJSON(w, r, &body, true); err != nil {
			h.fail(w, r, err)
			return
		}
		token = body.RefreshToken
	}

	pair, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setTokenCookies(w, *pair)
	h.write(w, r, response.Success(http.StatusOK, "access token refreshed", pair))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := guard.UserFromContext(r.Context())
	if !ok {
		h.fail(w, r, common.AuthError("unauthorized", nil))
		return
	}

	if err := h.sessions.Logout(r.Context(), user.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearTokenCookies(w)
	h.write(w, r, response.Success(http.StatusOK, "user logged out", nil))
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := guard.UserFromContext(r.Context())
	if !ok {
		h.fail(w, r, common.AuthError("unauthorized", nil))
		return
	}

	profile, err := h.sessions.Profile(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.write(w, r, response.Success(http.StatusOK, "current user", userData{User: profile}))
}

// decodeJSON reads exactly one JSON object of at most maxJSONBytes with no
// unknown fields. An empty body is accepted only when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return common.ValidationError("invalid request body", "body: too large")
		}
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return common.ValidationError("request body is required")
		}
		return common.ValidationError("invalid request body", err.Error())
	}
	if dec.More() {
		return common.ValidationError("invalid request body", "body must contain a single JSON object")
	}
	return nil
}

// readRegisterInput accepts JSON or multipart/form-data. A multipart
// profileImage is spooled to a temporary file that cleanup removes.
func (h *Handler) readRegisterInput(w http.ResponseWriter, r *http.Request) (services.RegisterInput, func(), error) {
	var in services.RegisterInput
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return in, noop, decodeJSON(w, r, &in, false)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return in, noop, common.ValidationError("invalid input", profileImageField+": file too large")
		}
		return in, noop, common.ValidationError("invalid request body", err.Error())
	}
	form := r.MultipartForm
	cleanup := func() { _ = form.RemoveAll() }

	fields := map[string]*string{
		"email":       &in.Email,
		"displayName": &in.DisplayName,
		"userName":    &in.UserName,
		"password":    &in.Password,
	}
	for name, values := range form.Value {
		dst, ok := fields[name]
		if !ok {
			return in, cleanup, common.ValidationError("invalid input", name+": unknown field")
		}
		if len(values) > 0 {
			*dst = values[0]
		}
	}
	for name := range form.File {
		if name != profileImageField {
			return in, cleanup, common.ValidationError("invalid input", name+": unknown field")
		}
	}

	headers := form.File[profileImageField]
	if len(headers) == 0 {
		return in, cleanup, nil
	}

	src, err := headers[0].Open()
	if err != nil {
		return in, cleanup, common.InternalError(err)
	}
	defer src.Close()

	ext := filepath.Ext(headers[0].Filename)
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	tmp, err := os.CreateTemp("", "gophauth-upload-*"+ext)
	if err != nil {
		return in, cleanup, common.InternalError(err)
	}
	path := tmp.Name()
	cleanup = func() {
		_ = os.Remove(path)
		_ = form.RemoveAll()
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return in, cleanup, common.InternalError(err)
	}
	if err := tmp.Close(); err != nil {
		return in, cleanup, common.InternalError(err)
	}

	in.ProfileImagePath = path
	return in, cleanup, nil
}
