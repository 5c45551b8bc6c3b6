package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-recovery/internal/handler"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

// RegisterPatients registers the patient endpoints.  Every route requires a
// staff role; Doctor visibility is narrowed inside the handlers.
func RegisterPatients(api *echo.Group, p *handler.PatientHandler, photos *handler.PhotoHandler, tokens middleware.TokenValidator) {
	staff := []echo.MiddlewareFunc{
		middleware.JWTAuth(tokens),
		middleware.RequireRole(policy.Staff...),
	}

	g := api.Group("/patients", staff...)
	g.GET("", p.List)
	g.GET("/:id", p.Get)
	g.POST("", p.Create)
	g.PUT("/:id", p.Update)
	g.DELETE("/:id", p.Delete)
	g.PATCH("/:id/assign", p.AssignDoctor, middleware.RequireRole(model.RoleAdmin))

	api.POST("/patientphoto/:id/upload", photos.Upload, staff...)
}
