package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/model"
)

const testSecret = "test-secret-at-least-32-chars-long-for-security"

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	issuer := NewTokenIssuer(testSecret)
	tok, err := issuer.Issue(model.User{ID: 42, Username: "house"}, []string{model.RoleDoctor, model.RoleNurse})
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)

	p, err := issuer.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.UserID)
	assert.Equal(t, "house", p.Username)
	assert.Equal(t, []string{model.RoleDoctor, model.RoleNurse}, p.Roles)
}

func TestTokenIssuer_TwoHourWindow(t *testing.T) {
	issuedAt := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	tok, err := NewTokenIssuer(testSecret).WithClock(fixedClock(issuedAt)).
		Issue(model.User{ID: 1, Username: "root"}, []string{model.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(2*time.Hour), tok.Exp)

	_, err = NewTokenIssuer(testSecret).WithClock(fixedClock(issuedAt.Add(119 * time.Minute))).Validate(tok.Token)
	assert.NoError(t, err, "token must be valid at T+119m")

	_, err = NewTokenIssuer(testSecret).WithClock(fixedClock(issuedAt.Add(121 * time.Minute))).Validate(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "token must be rejected at T+121m")
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	tok, err := NewTokenIssuer(testSecret).Issue(model.User{ID: 1, Username: "root"}, nil)
	require.NoError(t, err)

	_, err = NewTokenIssuer("another-secret-of-sufficient-length!!").Validate(tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		Name: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer(testSecret).Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Garbage(t *testing.T) {
	_, err := NewTokenIssuer(testSecret).Validate(strings.Repeat("x", 20))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword_HashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret!", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "s3cret!"))
	assert.False(t, VerifyPassword(hash, "wrong"))
}
