// Package router defines how HTTP routes are registered for the API.
package router

import (
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/handler"
	"github.com/iliyamo/patient-recovery/internal/middleware"
)

// Handlers bundles everything the API serves.
type Handlers struct {
	Auth      *handler.AuthHandler
	Telegram  *handler.TelegramHandler
	Patients  *handler.PatientHandler
	Photos    *handler.PhotoHandler
	Diagnoses *handler.DiagnosisHandler
	Vitals    *handler.VitalHandler
	Rehab     *handler.RehabHandler
	Users     *handler.UserHandler
}

// Options carries the cross-cutting pieces shared by the route groups.
type Options struct {
	Tokens    middleware.TokenValidator
	RateLimit echo.MiddlewareFunc // in front of /api/auth; nil disables
	Cache     *middleware.ResponseCache
	DB        handler.Pinger
	UploadDir string
	Logger    *logrus.Entry
}

// New builds the Echo instance with global middleware and every route.
func New(h Handlers, o Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(o.Logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	RegisterRoutes(e, o.DB, o.UploadDir)

	api := e.Group("/api")
	RegisterAuth(api, h.Auth, h.Telegram, o.Tokens, o.RateLimit)
	RegisterPatients(api, h.Patients, h.Photos, o.Tokens)
	RegisterClinical(api, h.Diagnoses, h.Vitals, h.Rehab, o.Tokens)
	RegisterAdmin(api, h.Users, o.Tokens, o.Cache)
	return e
}

// RegisterRoutes registers the routes that sit outside /api: the health
// check and the uploaded patient photos.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, uploadDir string) {
	e.GET("/healthz", handler.Health(db))
	if uploadDir != "" {
		e.Static("/images", filepath.Join(uploadDir, "images"))
	}
}

// RegisterAuth registers registration, login and the token-protected
// account endpoints.  Only the unauthenticated calls are rate limited.
func RegisterAuth(api *echo.Group, a *handler.AuthHandler, t *handler.TelegramHandler, tokens middleware.TokenValidator, limiter echo.MiddlewareFunc) {
	var mws []echo.MiddlewareFunc
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := api.Group("/auth", mws...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	jwt := middleware.JWTAuth(tokens)
	api.GET("/auth/check-telegram", a.CheckTelegram, jwt)
	api.GET("/auth/me", a.Me, jwt)

	tg := api.Group("/telegram", jwt)
	tg.POST("/bind", t.Bind)
	tg.DELETE("/bind", t.Unbind)
}
