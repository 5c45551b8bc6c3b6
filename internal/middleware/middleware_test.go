package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/config"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

type fakeValidator map[string]policy.Principal

func (f fakeValidator) Validate(raw string) (policy.Principal, error) {
	if p, ok := f[raw]; ok {
		return p, nil
	}
	return policy.Principal{}, errors.New("invalid token")
}

var tokens = fakeValidator{
	"doctor": {UserID: 7, Username: "house", Roles: []string{model.RoleDoctor}},
	"admin":  {UserID: 1, Username: "root", Roles: []string{model.RoleAdmin}},
}

func serve(t *testing.T, auth string, mws ...echo.MiddlewareFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/x", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.String(http.StatusOK, "anon")
		}
		return c.String(http.StatusOK, p.Username)
	}, mws...)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name   string
		auth   string
		status int
		body   string
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", auth: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid token", auth: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid token", auth: "Bearer doctor", status: http.StatusOK, body: "house"},
		{name: "scheme is case-insensitive", auth: "bearer admin", status: http.StatusOK, body: "root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.auth, JWTAuth(tokens))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestOptionalJWT(t *testing.T) {
	rec := serve(t, "", OptionalJWT(tokens))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anon", rec.Body.String())

	rec = serve(t, "Bearer doctor", OptionalJWT(tokens))
	assert.Equal(t, "house", rec.Body.String())

	rec = serve(t, "Bearer forged", OptionalJWT(tokens))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	rec := serve(t, "Bearer doctor", JWTAuth(tokens), RequireRole(model.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, "Bearer admin", JWTAuth(tokens), RequireRole(model.RoleAdmin, model.RoleNurse))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, "", RequireRole(model.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/auth/login")

	key := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}, c)
	assert.Equal(t, "rl:ip:10.0.0.1:route:POST /api/auth/login", key)

	setPrincipal(c, policy.Principal{UserID: 7})
	key = buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c)
	assert.Equal(t, "rl:user:7", key)
}

func TestDisabledLimiterAndCacheArePassThrough(t *testing.T) {
	rec := serve(t, "", NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rc := NewResponseCache(config.CacheConfig{Enabled: true}, nil, nil)
	rec = serve(t, "", rc.Middleware("users"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.NoError(t, rc.Invalidate(context.Background(), "users"))
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": []string{"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)

	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}

func TestRequestLoggerLevels(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(logrus.NewEntry(logger)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].Data["uri"])
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, http.StatusNotFound, entries[1].Data["status"])
}
