package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
	"github.com/iliyamo/patient-recovery/internal/repository"
)

// PatientChecker confirms a referenced patient exists.
type PatientChecker interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

func ensurePatient(ctx context.Context, pc PatientChecker, id uint64) error {
	ok, err := pc.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrPatientNotFound
	}
	return nil
}

// clinicalFilter parses ?patientId=.
func clinicalFilter(c echo.Context) (model.ClinicalFilter, bool) {
	id, ok := queryID(c, "patientId")
	return model.ClinicalFilter{PatientID: id}, ok
}

type DiagnosisStore interface {
	List(ctx context.Context, f model.ClinicalFilter) ([]*model.Diagnosis, error)
	Get(ctx context.Context, id uint64) (*model.Diagnosis, error)
	Create(ctx context.Context, d *model.Diagnosis) error
	Update(ctx context.Context, d *model.Diagnosis) error
	Delete(ctx context.Context, id uint64) error
}

// DiagnosisHandler serves /diagnoses.  Reads are open to anonymous callers
// while PublicRead is set; writes need the Doctor role.
type DiagnosisHandler struct {
	Diagnoses  DiagnosisStore
	Patients   PatientChecker
	PublicRead bool
	Now        func() time.Time
	Log        *logrus.Entry
}

func NewDiagnosisHandler(d DiagnosisStore, p PatientChecker, publicRead bool) *DiagnosisHandler {
	return &DiagnosisHandler{Diagnoses: d, Patients: p, PublicRead: publicRead, Now: time.Now, Log: logging.Component("diagnoses")}
}

type diagnosisReq struct {
	ID             uint64     `json:"id"`
	PatientID      uint64     `json:"patientId"`
	Symptoms       string     `json:"symptoms"`
	Recommendation string     `json:"recommendation"`
	RecordedAt     *time.Time `json:"recordedAt"`
}

func (r *diagnosisReq) validate() string {
	r.Symptoms = strings.TrimSpace(r.Symptoms)
	r.Recommendation = strings.TrimSpace(r.Recommendation)
	switch {
	case r.PatientID == 0:
		return "patientId is required"
	case r.Symptoms == "":
		return "symptoms is required"
	}
	return ""
}

// canRead answers 401/403 itself and reports whether the handler may go on.
func (h *DiagnosisHandler) canRead(c echo.Context) (bool, error) {
	p, authed := middleware.PrincipalFrom(c)
	var pp *policy.Principal
	if authed {
		pp = &p
	}
	if policy.CanReadDiagnoses(pp, h.PublicRead) {
		return true, nil
	}
	if !authed {
		return false, unauthorized(c)
	}
	return false, forbidden(c)
}

func (h *DiagnosisHandler) canWrite(c echo.Context) (policy.Principal, bool, error) {
	p, ok := caller(c)
	if !ok {
		return p, false, unauthorized(c)
	}
	if !policy.CanWriteDiagnoses(p) {
		return p, false, forbidden(c)
	}
	return p, true, nil
}

func (h *DiagnosisHandler) List(c echo.Context) error {
	if ok, err := h.canRead(c); !ok {
		return err
	}
	f, ok := clinicalFilter(c)
	if !ok {
		return badRequest(c, "invalid patientId")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Diagnoses.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *DiagnosisHandler) Get(c echo.Context) error {
	if ok, err := h.canRead(c); !ok {
		return err
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	d, err := h.Diagnoses.Get(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Create records a diagnosis stamped with the server clock.
func (h *DiagnosisHandler) Create(c echo.Context) error {
	if _, ok, err := h.canWrite(c); !ok {
		return err
	}
	var req diagnosisReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := ensurePatient(ctx, h.Patients, req.PatientID); err != nil {
		return respondError(c, h.Log, err)
	}
	d := &model.Diagnosis{
		PatientID:      req.PatientID,
		Symptoms:       req.Symptoms,
		Recommendation: req.Recommendation,
		RecordedAt:     h.Now().UTC(),
	}
	if err := h.Diagnoses.Create(ctx, d); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// Update rewrites a diagnosis.  recordedAt changes only when the body
// supplies it.
func (h *DiagnosisHandler) Update(c echo.Context) error {
	if _, ok, err := h.canWrite(c); !ok {
		return err
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req diagnosisReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ID != 0 && req.ID != id {
		return badRequest(c, "id in body does not match path")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	d := &model.Diagnosis{ID: id, PatientID: req.PatientID, Symptoms: req.Symptoms, Recommendation: req.Recommendation}
	if req.RecordedAt != nil {
		d.RecordedAt = req.RecordedAt.UTC()
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Diagnoses.Update(ctx, d); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DiagnosisHandler) Delete(c echo.Context) error {
	if _, ok, err := h.canWrite(c); !ok {
		return err
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Diagnoses.Delete(ctx, id); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
