package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-recovery/internal/handler"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/model"
)

// RegisterAdmin registers the Admin-only user and role endpoints.  The two
// listings are served through the response cache; role changes invalidate
// it from the handler.  Middleware is attached per route because these
// paths share the /api prefix with everything else.
func RegisterAdmin(api *echo.Group, u *handler.UserHandler, tokens middleware.TokenValidator, cache *middleware.ResponseCache) {
	admin := []echo.MiddlewareFunc{
		middleware.JWTAuth(tokens),
		middleware.RequireRole(model.RoleAdmin),
	}
	api.GET("/users", u.List, append(admin, cache.Middleware(handler.CacheUsers))...)
	api.GET("/doctors", u.Doctors, append(admin, cache.Middleware(handler.CacheDoctors))...)
	api.POST("/users/assign-role", u.AssignRole, admin...)
	api.DELETE("/users/remove-role", u.RemoveRole, admin...)
}
