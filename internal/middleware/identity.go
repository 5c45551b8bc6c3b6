package middleware

// identity.go keeps the authenticated principal on the echo context and
// derives the user key used by the rate limiter and the response cache.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-recovery/internal/policy"
)

const principalKey = "principal"

func setPrincipal(c echo.Context, p policy.Principal) {
	c.Set(principalKey, p)
}

// PrincipalFrom returns the caller stored by JWTAuth or OptionalJWT.
func PrincipalFrom(c echo.Context) (policy.Principal, bool) {
	p, ok := c.Get(principalKey).(policy.Principal)
	return p, ok
}

// userID returns the caller's id as a string, or "anon".
func userID(c echo.Context) string {
	if p, ok := PrincipalFrom(c); ok && p.UserID != 0 {
		return strconv.FormatUint(p.UserID, 10)
	}
	return "anon"
}
