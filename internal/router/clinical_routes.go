package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-recovery/internal/handler"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/model"
)

// RegisterClinical registers diagnoses, vital records and rehabilitation
// logs.  Diagnosis reads decode a token when one is sent and leave the
// public/staff decision to the handler; vitals and rehab logs are open.
func RegisterClinical(api *echo.Group, d *handler.DiagnosisHandler, v *handler.VitalHandler, r *handler.RehabHandler, tokens middleware.TokenValidator) {
	optional := middleware.OptionalJWT(tokens)
	doctor := []echo.MiddlewareFunc{middleware.JWTAuth(tokens), middleware.RequireRole(model.RoleDoctor)}

	dg := api.Group("/diagnoses")
	dg.GET("", d.List, optional)
	dg.GET("/:id", d.Get, optional)
	dg.POST("", d.Create, doctor...)
	dg.PUT("/:id", d.Update, doctor...)
	dg.DELETE("/:id", d.Delete, doctor...)

	vg := api.Group("/vitalrecords")
	vg.GET("", v.List)
	vg.GET("/:id", v.Get)
	vg.POST("", v.Create)
	vg.PUT("/:id", v.Update)
	vg.DELETE("/:id", v.Delete)

	rg := api.Group("/rehabilitationlogs")
	rg.GET("", r.List)
	rg.GET("/:id", r.Get)
	rg.POST("", r.Create)
	rg.PUT("/:id", r.Update)
	rg.DELETE("/:id", r.Delete)
}
