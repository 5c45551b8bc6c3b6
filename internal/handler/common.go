// Package handler exposes the HTTP API.  Handlers depend on small
// interfaces declared next to them so tests can drive them with fakes.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/policy"
	"github.com/iliyamo/patient-recovery/internal/repository"
)

// dbTimeout bounds every repository call made by a handler.
const dbTimeout = 5 * time.Second

func dbContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryID reads an optional positive integer query parameter.  ok is false
// only when the parameter is present but malformed.
func queryID(c echo.Context, name string) (id *uint64, ok bool) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return nil, false
	}
	return &v, true
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// caller returns the authenticated principal.  Routes using it sit behind
// JWTAuth; when it is missing the handler answers with unauthorized.
func caller(c echo.Context) (policy.Principal, bool) {
	return middleware.PrincipalFrom(c)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

var notFoundErrs = []error{
	repository.ErrUserNotFound,
	repository.ErrPatientNotFound,
	repository.ErrDiagnosisNotFound,
	repository.ErrVitalNotFound,
	repository.ErrRehabLogNotFound,
}

// respondError maps repository errors onto HTTP statuses.  Anything it does
// not recognise is logged and answered with 500.
func respondError(c echo.Context, log *logrus.Entry, err error) error {
	for _, nf := range notFoundErrs {
		if errors.Is(err, nf) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": nf.Error()})
		}
	}
	switch {
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if log == nil {
		log = logging.Logger()
	}
	log.WithError(err).WithFields(logging.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}
