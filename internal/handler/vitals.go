package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/model"
)

type VitalStore interface {
	List(ctx context.Context, f model.ClinicalFilter) ([]*model.VitalRecord, error)
	Get(ctx context.Context, id uint64) (*model.VitalRecord, error)
	Create(ctx context.Context, v *model.VitalRecord) error
	Update(ctx context.Context, v *model.VitalRecord) error
	Delete(ctx context.Context, id uint64) error
}

// Alerter is implemented by alert.Alerter.  Raise never fails; it reports
// how many deliveries went out.
type Alerter interface {
	Raise(ctx context.Context, v model.VitalRecord) int
}

// VitalHandler serves /vitalrecords.
type VitalHandler struct {
	Vitals   VitalStore
	Patients PatientChecker
	Alerts   Alerter
	Now      func() time.Time
	Log      *logrus.Entry
}

func NewVitalHandler(v VitalStore, p PatientChecker, a Alerter) *VitalHandler {
	return &VitalHandler{Vitals: v, Patients: p, Alerts: a, Now: time.Now, Log: logging.Component("vitals")}
}

type vitalReq struct {
	ID                     uint64     `json:"id"`
	PatientID              uint64     `json:"patientId"`
	Temperature            float64    `json:"temperature"`
	BloodPressureSystolic  int        `json:"bloodPressureSystolic"`
	BloodPressureDiastolic int        `json:"bloodPressureDiastolic"`
	Pulse                  int        `json:"pulse"`
	Notes                  string     `json:"notes"`
	RecordedAt             *time.Time `json:"recordedAt"`
}

func (r *vitalReq) validate() string {
	r.Notes = strings.TrimSpace(r.Notes)
	switch {
	case r.PatientID == 0:
		return "patientId is required"
	case r.Temperature <= 0:
		return "temperature must be positive"
	case r.BloodPressureSystolic <= 0 || r.BloodPressureDiastolic <= 0:
		return "blood pressure must be positive"
	case r.Pulse <= 0:
		return "pulse must be positive"
	}
	return ""
}

func (r *vitalReq) record() *model.VitalRecord {
	return &model.VitalRecord{
		PatientID:              r.PatientID,
		Temperature:            r.Temperature,
		BloodPressureSystolic:  r.BloodPressureSystolic,
		BloodPressureDiastolic: r.BloodPressureDiastolic,
		Pulse:                  r.Pulse,
		Notes:                  r.Notes,
	}
}

func (h *VitalHandler) List(c echo.Context) error {
	f, ok := clinicalFilter(c)
	if !ok {
		return badRequest(c, "invalid patientId")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Vitals.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *VitalHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	v, err := h.Vitals.Get(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Create evaluates the reading, alerts the care team when it is anomalous
// and then stores it.  Alerting problems never affect the response.
func (h *VitalHandler) Create(c echo.Context) error {
	var req vitalReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	v := req.record()
	v.RecordedAt = h.Now().UTC()

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := ensurePatient(ctx, h.Patients, v.PatientID); err != nil {
		return respondError(c, h.Log, err)
	}
	if h.Alerts != nil {
		if n := h.Alerts.Raise(c.Request().Context(), *v); n > 0 {
			h.Log.WithFields(logging.Fields{"patient_id": v.PatientID, "deliveries": n}).Info("vital alert raised")
		}
	}
	if err := h.Vitals.Create(ctx, v); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// Update rewrites a reading.  Updates are not re-evaluated for alerts.
func (h *VitalHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req vitalReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ID != 0 && req.ID != id {
		return badRequest(c, "id in body does not match path")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	v := req.record()
	v.ID = id
	if req.RecordedAt != nil {
		v.RecordedAt = req.RecordedAt.UTC()
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Vitals.Update(ctx, v); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *VitalHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Vitals.Delete(ctx, id); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
