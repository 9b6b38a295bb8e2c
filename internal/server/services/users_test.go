package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/auth"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/objectstore"
	"github.com/dmitrijs2005/gophauth/internal/server/password"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

var testSettings = auth.Settings{
	AccessSecret:  []byte("access-secret"),
	AccessTTL:     15 * time.Minute,
	RefreshSecret: []byte("refresh-secret"),
	RefreshTTL:    7 * 24 * time.Hour,
}

type fixture struct {
	svc    *UserService
	repo   *users.InMemoryRepository
	issuer *auth.Issuer
	hasher *password.BcryptHasher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	issuer, err := auth.NewIssuer(testSettings)
	require.NoError(t, err)
	repo := users.NewInMemoryRepository()
	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	svc, err := NewUserService(repo, hasher, issuer, logging.Discard(), opts...)
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, issuer: issuer, hasher: hasher}
}

func (f *fixture) register(t *testing.T) *models.PublicUser {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: "A", UserName: "alice", Password: "secret1",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) requireNoUser(t *testing.T, email string) {
	t.Helper()
	_, err := f.repo.FindByEmailOrHandle(context.Background(), email)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func (f *fixture) login(t *testing.T) *Session {
	t.Helper()
	s, err := f.svc.Login(context.Background(), LoginInput{Identifier: "a@x.com", Password: "secret1"})
	require.NoError(t, err)
	return s
}

func requireKind(t *testing.T, err error, kind common.Kind) *common.Error {
	t.Helper()
	require.Error(t, err)
	var e *common.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind, "got %v", err)
	return e
}

type fakeUploader struct {
	path      string
	err       error
	deleted   []string
	deleteErr error
}

func (f *fakeUploader) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.deleteErr
}

func (f *fakeUploader) Upload(_ context.Context, p string) (*objectstore.UploadResult, error) {
	f.path = p
	if f.err != nil {
		return nil, f.err
	}
	return &objectstore.UploadResult{URL: "http://minio/avatars/k.png", Key: "k.png"}, nil
}

type failingRepo struct {
	users.Repository
	findErr   error
	createErr error
	updateErr error
}

func (r *failingRepo) FindByEmailOrHandle(ctx context.Context, v string) (*models.User, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Repository.FindByEmailOrHandle(ctx, v)
}

func (r *failingRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.Repository.Create(ctx, u)
}

func (r *failingRepo) Update(ctx context.Context, id string, p models.UserPatch) (*models.User, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	return r.Repository.Update(ctx, id, p)
}

type recordingMetrics struct {
	ops []string
}

func (r *recordingMetrics) Observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = common.KindOf(err).String()
	}
	r.ops = append(r.ops, op+":"+outcome)
}

// --- Register ---

func TestRegister_StoresHashNotPlaintext(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, "alice", u.UserName)
	assert.Equal(t, models.RoleUser, u.Role)

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)
	assert.NotContains(t, stored.PasswordHash, "secret1")
	assert.True(t, f.hasher.Verify("secret1", stored.PasswordHash))
	assert.Empty(t, stored.RefreshTokens)
}

func TestRegister_NormalizesEmail(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "  A@X.com ", DisplayName: "A", Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "A@x.com", DisplayName: "B", Password: "secret2",
	})
	requireKind(t, err, common.KindConflict)
	stored, err := f.repo.FindByEmailOrHandle(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "A", stored.DisplayName, "the first registration is untouched")
}

func TestRegister_DuplicateHandle(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "b@x.com", DisplayName: "B", UserName: "Alice", Password: "secret2",
	})
	requireKind(t, err, common.KindConflict)
}

func TestRegister_StoreRaceMapsToConflict(t *testing.T) {
	repo := &failingRepo{Repository: users.NewInMemoryRepository(), createErr: common.ErrorAlreadyExists}
	issuer, err := auth.NewIssuer(testSettings)
	require.NoError(t, err)
	svc, err := NewUserService(repo, password.NewBcryptHasher(bcrypt.MinCost), issuer, logging.Discard())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "a@x.com", DisplayName: "A", Password: "secret1"})
	requireKind(t, err, common.KindConflict)
}

func TestRegister_DisplayNameCountsCharacters(t *testing.T) {
	f := newFixture(t)
	name := strings.Repeat("名", 34)

	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: name, Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, name, u.DisplayName)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name    string
		in      RegisterInput
		details []string
	}{
		{
			name:    "all missing",
			in:      RegisterInput{},
			details: []string{"displayName: cannot be blank", "email: cannot be blank", "password: cannot be blank"},
		},
		{
			name:    "display name over 100 characters",
			in:      RegisterInput{Email: "a@x.com", DisplayName: strings.Repeat("名", 101), Password: "secret1"},
			details: []string{"displayName: the length must be between 1 and 100"},
		},
		{
			name:    "bad email",
			in:      RegisterInput{Email: "not-an-email", DisplayName: "A", Password: "secret1"},
			details: []string{"email: must be in a valid format"},
		},
		{
			name:    "short password",
			in:      RegisterInput{Email: "a@x.com", DisplayName: "A", Password: "123"},
			details: []string{"password: the length must be between 6 and 72"},
		},
		{
			name:    "handle with at sign",
			in:      RegisterInput{Email: "a@x.com", DisplayName: "A", UserName: "a@x.com", Password: "secret1"},
			details: []string{"userName: must be in a valid format"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Register(context.Background(), tt.in)
			e := requireKind(t, err, common.KindValidation)
			assert.Equal(t, tt.details, e.Details)
			f.requireNoUser(t, "a@x.com")
		})
	}
}

func TestRegister_UploadsProfileImage(t *testing.T) {
	up := &fakeUploader{}
	f := newFixture(t, WithUploader(up))

	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: "A", Password: "secret1", ProfileImagePath: "/tmp/upload-1.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/upload-1.png", up.path)
	assert.Equal(t, "http://minio/avatars/k.png", u.ProfileImageURL)
}

func TestRegister_CreateFailureDiscardsUploadedImage(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		deleteErr error
		kind      common.Kind
	}{
		{name: "conflict", createErr: common.ErrorAlreadyExists, kind: common.KindConflict},
		{name: "store down", createErr: errors.New("connection reset"), kind: common.KindInternal},
		{name: "delete fails too", createErr: errors.New("connection reset"), deleteErr: errors.New("s3 down"), kind: common.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{deleteErr: tt.deleteErr}
			repo := &failingRepo{Repository: users.NewInMemoryRepository(), createErr: tt.createErr}
			issuer, err := auth.NewIssuer(testSettings)
			require.NoError(t, err)
			svc, err := NewUserService(repo, password.NewBcryptHasher(bcrypt.MinCost), issuer, logging.Discard(), WithUploader(up))
			require.NoError(t, err)

			_, err = svc.Register(context.Background(), RegisterInput{
				Email: "a@x.com", DisplayName: "A", Password: "secret1", ProfileImagePath: "/tmp/x.png",
			})
			requireKind(t, err, tt.kind)
			assert.Equal(t, []string{"k.png"}, up.deleted)
		})
	}
}

func TestRegister_KeepsImageOnSuccess(t *testing.T) {
	up := &fakeUploader{}
	f := newFixture(t, WithUploader(up))

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: "A", Password: "secret1", ProfileImagePath: "/tmp/x.png",
	})
	require.NoError(t, err)
	assert.Empty(t, up.deleted)
}

func TestRegister_UploadFailureIsInternal(t *testing.T) {
	f := newFixture(t, WithUploader(&fakeUploader{err: errors.New("s3 down")}))

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: "A", Password: "secret1", ProfileImagePath: "/tmp/x.png",
	})
	e := requireKind(t, err, common.KindInternal)
	assert.Equal(t, "internal server error", e.Message)
	f.requireNoUser(t, "a@x.com")
}

func TestRegister_ImageWithoutUploader(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", DisplayName: "A", Password: "secret1", ProfileImagePath: "/tmp/x.png",
	})
	requireKind(t, err, common.KindValidation)
}

// --- Login ---

func TestLogin_IssuesPairAndStoresDigest(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	s := f.login(t)
	assert.NotEmpty(t, s.AccessToken)
	assert.NotEmpty(t, s.RefreshToken)
	assert.NotEqual(t, s.AccessToken, s.RefreshToken)
	assert.Equal(t, u.ID, s.User.ID)
	assert.True(t, s.RefreshTokenExpiresAt.After(s.AccessTokenExpiresAt))

	claims, err := f.issuer.Verify(s.AccessToken, auth.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, models.RoleUser, claims.Role)

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{digest(s.RefreshToken)}, stored.RefreshTokens)
}

func TestLogin_ByHandle(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, err := f.svc.Login(context.Background(), LoginInput{Identifier: "ALICE", Password: "secret1"})
	require.NoError(t, err)
}

func TestLogin_SecondLoginReplacesToken(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	first := f.login(t)
	second := f.login(t)

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{digest(second.RefreshToken)}, stored.RefreshTokens)

	_, err = f.svc.Refresh(context.Background(), first.RefreshToken)
	requireKind(t, err, common.KindUnauthorized)
}

func TestLogin_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	_, errUnknown := f.svc.Login(context.Background(), LoginInput{Identifier: "ghost@x.com", Password: "secret1"})
	_, errWrong := f.svc.Login(context.Background(), LoginInput{Identifier: "a@x.com", Password: "nope-nope"})

	e1 := requireKind(t, errUnknown, common.KindUnauthorized)
	e2 := requireKind(t, errWrong, common.KindUnauthorized)
	assert.Equal(t, "invalid credentials", e1.Message)
	assert.Equal(t, e1.Message, e2.Message)
}

func TestLogin_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), LoginInput{})
	e := requireKind(t, err, common.KindValidation)
	assert.Equal(t, []string{"identifier: cannot be blank", "password: cannot be blank"}, e.Details)
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	repo := &failingRepo{Repository: users.NewInMemoryRepository(), findErr: errors.New("db down")}
	issuer, err := auth.NewIssuer(testSettings)
	require.NoError(t, err)
	svc, err := NewUserService(repo, password.NewBcryptHasher(bcrypt.MinCost), issuer, logging.Discard())
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), LoginInput{Identifier: "a@x.com", Password: "secret1"})
	e := requireKind(t, err, common.KindInternal)
	assert.NotContains(t, e.Message, "db down")
}

// --- Refresh ---

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	s := f.login(t)

	pair, err := f.svc.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, pair.RefreshToken)
	assert.NotEqual(t, s.AccessToken, pair.AccessToken)

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{digest(pair.RefreshToken)}, stored.RefreshTokens)

	_, err = f.svc.Refresh(context.Background(), s.RefreshToken)
	e := requireKind(t, err, common.KindUnauthorized)
	assert.Equal(t, "refresh token is expired or used", e.Message)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err, "the newest token still works")
}

func TestRefresh_RejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	s := f.login(t)

	past := time.Now().Add(-30 * 24 * time.Hour)
	oldIssuer, err := auth.NewIssuer(testSettings, auth.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	expired, _, err := oldIssuer.IssueRefreshToken(u.ID)
	require.NoError(t, err)

	forgedSettings := testSettings
	forgedSettings.RefreshSecret = []byte("someone-elses-secret")
	forger, err := auth.NewIssuer(forgedSettings)
	require.NoError(t, err)
	forged, _, err := forger.IssueRefreshToken(u.ID)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"empty", "", "refresh token is required"},
		{"garbage", "garbage", "invalid refresh token"},
		{"expired", expired, "invalid refresh token"},
		{"forged", forged, "invalid refresh token"},
		{"access token", s.AccessToken, "invalid refresh token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := f.svc.Refresh(context.Background(), tt.token)
			assert.Nil(t, pair)
			e := requireKind(t, err, common.KindUnauthorized)
			assert.Equal(t, tt.msg, e.Message)
		})
	}

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{digest(s.RefreshToken)}, stored.RefreshTokens, "failed refreshes must not touch the store")
}

func TestRefresh_DeletedUser(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	s := f.login(t)
	f.repo.Delete(u.ID)

	_, err := f.svc.Refresh(context.Background(), s.RefreshToken)
	requireKind(t, err, common.KindUnauthorized)
}

func TestRefresh_StoreWriteFailure(t *testing.T) {
	inner := users.NewInMemoryRepository()
	repo := &failingRepo{Repository: inner}
	issuer, err := auth.NewIssuer(testSettings)
	require.NoError(t, err)
	svc, err := NewUserService(repo, password.NewBcryptHasher(bcrypt.MinCost), issuer, logging.Discard())
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "a@x.com", DisplayName: "A", Password: "secret1"})
	require.NoError(t, err)
	s, err := svc.Login(context.Background(), LoginInput{Identifier: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	repo.updateErr = errors.New("db down")
	_, err = svc.Refresh(context.Background(), s.RefreshToken)
	requireKind(t, err, common.KindInternal)
}

// --- Logout / Profile ---

func TestLogout_ClearsTokens(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)
	s := f.login(t)

	require.NoError(t, f.svc.Logout(context.Background(), u.ID))

	stored, err := f.repo.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshTokens)

	_, err = f.svc.Refresh(context.Background(), s.RefreshToken)
	requireKind(t, err, common.KindUnauthorized)

	_, err = f.issuer.Verify(s.AccessToken, auth.AccessToken)
	assert.NoError(t, err, "access tokens stay valid until expiry")
}

func TestLogout_UnknownUser(t *testing.T) {
	f := newFixture(t)
	requireKind(t, f.svc.Logout(context.Background(), "missing"), common.KindNotFound)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	got, err := f.svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = f.svc.Profile(context.Background(), "missing")
	requireKind(t, err, common.KindNotFound)
}

// --- end to end ---

func TestScenario_RegisterLoginRefreshReuse(t *testing.T) {
	rec := &recordingMetrics{}
	f := newFixture(t, WithMetrics(rec))
	ctx := context.Background()

	u, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret1", DisplayName: "A"})
	require.NoError(t, err)
	require.NotNil(t, u)

	s, err := f.svc.Login(ctx, LoginInput{Identifier: "a@x.com", Password: "secret1"})
	require.NoError(t, err)
	token1 := s.RefreshToken

	pair, err := f.svc.Refresh(ctx, token1)
	require.NoError(t, err)
	assert.NotEqual(t, token1, pair.RefreshToken)

	_, err = f.svc.Refresh(ctx, token1)
	requireKind(t, err, common.KindUnauthorized)
	assert.Equal(t, common.KindUnauthorized.HTTPStatus(), 401)

	assert.Equal(t, []string{"register:ok", "login:ok", "refresh:ok", "refresh:unauthorized"}, rec.ops)
}

var _ metrics.Recorder = (*recordingMetrics)(nil)
