package utils // package utils provides helper functions for token creation and hashing

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens

	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

// TokenTTL is the fixed lifetime of every access token.
const TokenTTL = 2 * time.Hour

// ErrInvalidToken covers every reason a token is refused: bad signature,
// unexpected algorithm, expiry or malformed claims.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp in UTC.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires"`
}

// Claims is the JWT payload.  sub carries the user id, name the username and
// roles one entry per role held at issuance.
type Claims struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens with a shared secret.
// There is no revocation list: a token is valid until it expires.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer returns an issuer for secret.  An empty secret is a
// configuration error the caller must reject before getting here.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// WithClock replaces the time source; tests use it to move across expiry.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// Issue builds and signs a token for u holding roles.
func (i *TokenIssuer) Issue(u model.User, roles []string) (AccessToken, error) {
	iat := i.now().UTC().Truncate(time.Second)
	exp := iat.Add(TokenTTL)
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		Name:  u.Username,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Validate verifies the signature and expiry of raw and returns the caller it
// describes.  Any failure is reported as ErrInvalidToken.
func (i *TokenIssuer) Validate(raw string) (policy.Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	var claims Claims
	tok, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		// Reject anything that is not HMAC before handing out the key.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return policy.Principal{}, ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return policy.Principal{}, ErrInvalidToken
	}
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	return policy.Principal{UserID: id, Username: claims.Name, Roles: roles}, nil
}
