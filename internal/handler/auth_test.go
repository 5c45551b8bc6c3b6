package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/repository"
	"github.com/iliyamo/patient-recovery/internal/utils"
)

// fakeUsers is a CredentialStore and ChatBinder with function fields for
// the calls a test wants to control.
type fakeUsers struct {
	users    map[string]model.User
	roles    map[uint64][]string
	createFn func(username, hash, role string) (uint64, error)
	bound    map[uint64]string
}

func (f *fakeUsers) FindByUsername(_ context.Context, username string) (model.User, error) {
	u, ok := f.users[username]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUsers) VerifyPassword(u model.User, plaintext string) bool {
	return utils.VerifyPassword(u.PasswordHash, plaintext)
}

func (f *fakeUsers) Create(_ context.Context, username, hash, role string) (uint64, error) {
	return f.createFn(username, hash, role)
}

func (f *fakeUsers) RolesOf(_ context.Context, id uint64) ([]string, error) {
	return f.roles[id], nil
}

func (f *fakeUsers) BindChat(_ context.Context, id uint64, chat string) error {
	if f.bound == nil {
		f.bound = map[uint64]string{}
	}
	f.bound[id] = chat
	return nil
}

func (f *fakeUsers) UnbindChat(_ context.Context, id uint64) error {
	delete(f.bound, id)
	return nil
}

func authServer(users *fakeUsers, issuer *utils.TokenIssuer) *echo.Echo {
	return authServerWithCache(users, issuer, nil)
}

func authServerWithCache(users *fakeUsers, issuer *utils.TokenIssuer, cache *fakeCache) *echo.Echo {
	var inv CacheInvalidator
	if cache != nil {
		inv = cache
	}
	h := NewAuthHandler(users, issuer, inv, bcrypt.MinCost)
	e := echo.New()
	e.POST("/auth/register", h.Register)
	e.POST("/auth/login", h.Login)
	e.GET("/auth/check-telegram", authed(h.CheckTelegram))
	e.GET("/auth/me", authed(h.Me))
	return e
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]string
		err    error
		status int
	}{
		{name: "ok", body: map[string]string{"username": "house", "password": "pw", "role": "doctor"}, status: http.StatusOK},
		{name: "missing role", body: map[string]string{"username": "house", "password": "pw"}, status: http.StatusBadRequest},
		{name: "duplicate username", body: map[string]string{"username": "house", "password": "pw", "role": "Doctor"}, err: repository.ErrUsernameExists, status: http.StatusConflict},
		{name: "second admin", body: map[string]string{"username": "boss", "password": "pw", "role": "Admin"}, err: repository.ErrAdminExists, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotRole, gotHash string
			users := &fakeUsers{createFn: func(_, hash, role string) (uint64, error) {
				gotRole, gotHash = role, hash
				return 5, tt.err
			}}
			rec := do(t, authServer(users, utils.NewTokenIssuer("s")), http.MethodPost, "/auth/register", "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, model.RoleDoctor, gotRole)
				assert.True(t, utils.VerifyPassword(gotHash, "pw"))
			}
		})
	}
}

func TestRegisterInvalidatesUserListings(t *testing.T) {
	body := map[string]string{"username": "house", "password": "pw", "role": "Doctor"}

	t.Run("success drops both namespaces", func(t *testing.T) {
		cache := &fakeCache{}
		users := &fakeUsers{createFn: func(_, _, _ string) (uint64, error) { return 5, nil }}
		rec := do(t, authServerWithCache(users, utils.NewTokenIssuer("s"), cache), http.MethodPost, "/auth/register", "", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []string{CacheUsers, CacheDoctors}, cache.dropped)
	})

	t.Run("conflict leaves cache alone", func(t *testing.T) {
		cache := &fakeCache{}
		users := &fakeUsers{createFn: func(_, _, _ string) (uint64, error) { return 0, repository.ErrUsernameExists }}
		rec := do(t, authServerWithCache(users, utils.NewTokenIssuer("s"), cache), http.MethodPost, "/auth/register", "", body)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, cache.dropped)
	})

	t.Run("cache failure is not fatal", func(t *testing.T) {
		cache := &fakeCache{err: errors.New("redis down")}
		users := &fakeUsers{createFn: func(_, _, _ string) (uint64, error) { return 5, nil }}
		rec := do(t, authServerWithCache(users, utils.NewTokenIssuer("s"), cache), http.MethodPost, "/auth/register", "", body)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLogin(t *testing.T) {
	hash, err := utils.HashPassword("secret", bcrypt.MinCost)
	require.NoError(t, err)
	users := &fakeUsers{
		users: map[string]model.User{"house": {ID: 7, Username: "house", PasswordHash: hash}},
		roles: map[uint64][]string{7: {model.RoleDoctor, model.RoleNurse}},
	}
	issuer := utils.NewTokenIssuer("s3cret")
	e := authServer(users, issuer)

	t.Run("wrong password", func(t *testing.T) {
		rec := do(t, e, http.MethodPost, "/auth/login", "", map[string]string{"username": "house", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("unknown user", func(t *testing.T) {
		rec := do(t, e, http.MethodPost, "/auth/login", "", map[string]string{"username": "ghost", "password": "secret"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("ok", func(t *testing.T) {
		rec := do(t, e, http.MethodPost, "/auth/login", "", map[string]string{"username": "house", "password": "secret"})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Token string `json:"token"`
			User  struct {
				ID    uint64   `json:"id"`
				Roles []string `json:"roles"`
			} `json:"user"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, uint64(7), resp.User.ID)

		p, err := issuer.Validate(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "house", p.Username)
		assert.ElementsMatch(t, []string{model.RoleDoctor, model.RoleNurse}, p.Roles)
	})
}

func TestCheckTelegram(t *testing.T) {
	chat := "42"
	users := &fakeUsers{users: map[string]model.User{
		"house": {ID: 7, Username: "house", TelegramChatID: &chat},
		"joy":   {ID: 9, Username: "joy"},
	}}
	e := authServer(users, utils.NewTokenIssuer("s"))

	var got map[string]bool
	rec := do(t, e, http.MethodGet, "/auth/check-telegram", "doctor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.True(t, got["linked"])

	rec = do(t, e, http.MethodGet, "/auth/check-telegram", "nurse", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &got)
	assert.False(t, got["linked"])

	rec = do(t, e, http.MethodGet, "/auth/check-telegram", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Token of a user that no longer exists.
	rec = do(t, e, http.MethodGet, "/auth/check-telegram", "admin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	e := authServer(&fakeUsers{}, utils.NewTokenIssuer("s"))
	rec := do(t, e, http.MethodGet, "/auth/me", "both", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":8,"username":"wilson","roles":["Doctor","Nurse"]}`, rec.Body.String())
}
