package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

// PatientStore is implemented by repository.PatientRepo.  Mutations take
// the acting username for the audit trail.
type PatientStore interface {
	List(ctx context.Context, f model.PatientFilter) ([]*model.Patient, error)
	Get(ctx context.Context, id uint64, doctorScope *uint64) (*model.Patient, error)
	Exists(ctx context.Context, id uint64) (bool, error)
	Create(ctx context.Context, p *model.Patient, actor string) error
	Update(ctx context.Context, p *model.Patient, actor string) error
	Delete(ctx context.Context, id uint64, actor string) error
	AssignDoctor(ctx context.Context, id, doctorID uint64, actor string) error
	SetPhoto(ctx context.Context, id uint64, url, actor string) error
}

// PatientHandler serves /patients.  Visibility is decided by policy and
// applied inside the store query.
type PatientHandler struct {
	Patients PatientStore
	Log      *logrus.Entry
}

func NewPatientHandler(patients PatientStore) *PatientHandler {
	return &PatientHandler{Patients: patients, Log: logging.Component("patients")}
}

type patientReq struct {
	ID            uint64     `json:"id"`
	FullName      string     `json:"fullName"`
	BirthDate     model.Date `json:"birthDate"`
	ContactNumber string     `json:"contactNumber"`
	Address       string     `json:"address"`
	DoctorID      *uint64    `json:"doctorId"`
}

func (r *patientReq) validate() string {
	r.FullName = strings.TrimSpace(r.FullName)
	r.ContactNumber = strings.TrimSpace(r.ContactNumber)
	r.Address = strings.TrimSpace(r.Address)
	switch {
	case r.FullName == "":
		return "fullName is required"
	case r.BirthDate.IsZero():
		return "birthDate is required"
	}
	return ""
}

// List returns the patients visible to the caller, optionally narrowed by
// ?search= (name contains) and ?doctorId=.
func (h *PatientHandler) List(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	doctorID, ok := queryID(c, "doctorId")
	if !ok {
		return badRequest(c, "invalid doctorId")
	}
	f := policy.PatientFilter(p, model.PatientFilter{Search: c.QueryParam("search"), DoctorID: doctorID})

	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Patients.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get returns one patient.  A Doctor asking for someone else's patient gets
// the same 404 as for a missing id.
func (h *PatientHandler) Get(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	patient, err := h.Patients.Get(ctx, id, policy.PatientScope(p))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, patient)
}

// Create registers a patient.  A Doctor always becomes the patient's doctor.
func (h *PatientHandler) Create(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	if !policy.CanManagePatients(p) {
		return forbidden(c)
	}
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	patient := &model.Patient{
		FullName:      req.FullName,
		BirthDate:     req.BirthDate,
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
		DoctorID:      policy.CreateDoctorID(p, req.DoctorID),
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Patients.Create(ctx, patient, p.Username); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, patient)
}

// Update rewrites the demographic fields of a patient.  The body id, when
// given, must match the path.
func (h *PatientHandler) Update(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	if !policy.CanManagePatients(p) {
		return forbidden(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ID != 0 && req.ID != id {
		return badRequest(c, "id in body does not match path")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	err := h.Patients.Update(ctx, &model.Patient{
		ID:            id,
		FullName:      req.FullName,
		BirthDate:     req.BirthDate,
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
	}, p.Username)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PatientHandler) Delete(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	if !policy.CanManagePatients(p) {
		return forbidden(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Patients.Delete(ctx, id, p.Username); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AssignDoctor handles PATCH /patients/:id/assign?doctorId=.  The target
// must hold the Doctor role.
func (h *PatientHandler) AssignDoctor(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	if !policy.CanAssignDoctor(p) {
		return forbidden(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	doctorID, ok := queryID(c, "doctorId")
	if !ok || doctorID == nil {
		return badRequest(c, "doctorId is required")
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Patients.AssignDoctor(ctx, id, *doctorID, p.Username); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "doctor assigned", "patientId": id, "doctorId": *doctorID})
}
