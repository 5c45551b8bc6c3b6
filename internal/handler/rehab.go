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

type RehabStore interface {
	List(ctx context.Context, f model.ClinicalFilter) ([]*model.RehabilitationLog, error)
	Get(ctx context.Context, id uint64) (*model.RehabilitationLog, error)
	Create(ctx context.Context, l *model.RehabilitationLog) error
	Update(ctx context.Context, l *model.RehabilitationLog) error
	Delete(ctx context.Context, id uint64) error
}

// RehabHandler serves /rehabilitationlogs.
type RehabHandler struct {
	Logs     RehabStore
	Patients PatientChecker
	Now      func() time.Time
	Log      *logrus.Entry
}

func NewRehabHandler(l RehabStore, p PatientChecker) *RehabHandler {
	return &RehabHandler{Logs: l, Patients: p, Now: time.Now, Log: logging.Component("rehab")}
}

type rehabReq struct {
	ID         uint64     `json:"id"`
	PatientID  uint64     `json:"patientId"`
	Activities string     `json:"activities"`
	Notes      string     `json:"notes"`
	LoggedAt   *time.Time `json:"loggedAt"`
}

func (r *rehabReq) validate() string {
	r.Activities = strings.TrimSpace(r.Activities)
	r.Notes = strings.TrimSpace(r.Notes)
	switch {
	case r.PatientID == 0:
		return "patientId is required"
	case r.Activities == "":
		return "activities is required"
	}
	return ""
}

func (h *RehabHandler) List(c echo.Context) error {
	f, ok := clinicalFilter(c)
	if !ok {
		return badRequest(c, "invalid patientId")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	list, err := h.Logs.List(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *RehabHandler) Get(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	l, err := h.Logs.Get(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *RehabHandler) Create(c echo.Context) error {
	var req rehabReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	l := &model.RehabilitationLog{
		PatientID:  req.PatientID,
		Activities: req.Activities,
		Notes:      req.Notes,
		LoggedAt:   h.Now().UTC(),
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := ensurePatient(ctx, h.Patients, l.PatientID); err != nil {
		return respondError(c, h.Log, err)
	}
	if err := h.Logs.Create(ctx, l); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *RehabHandler) Update(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req rehabReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.ID != 0 && req.ID != id {
		return badRequest(c, "id in body does not match path")
	}
	if msg := req.validate(); msg != "" {
		return badRequest(c, msg)
	}
	l := &model.RehabilitationLog{ID: id, PatientID: req.PatientID, Activities: req.Activities, Notes: req.Notes}
	if req.LoggedAt != nil {
		l.LoggedAt = req.LoggedAt.UTC()
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Logs.Update(ctx, l); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *RehabHandler) Delete(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx, cancel := dbContext(c)
	defer cancel()
	if err := h.Logs.Delete(ctx, id); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
