package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/middleware"
	"github.com/iliyamo/patient-recovery/internal/model"
	"github.com/iliyamo/patient-recovery/internal/policy"
	"github.com/iliyamo/patient-recovery/internal/repository"
)

type fakeTokens map[string]policy.Principal

func (f fakeTokens) Validate(raw string) (policy.Principal, error) {
	if p, ok := f[raw]; ok {
		return p, nil
	}
	return policy.Principal{}, errors.New("invalid token")
}

var principals = fakeTokens{
	"admin":  {UserID: 1, Username: "root", Roles: []string{model.RoleAdmin}},
	"doctor": {UserID: 7, Username: "house", Roles: []string{model.RoleDoctor}},
	"nurse":  {UserID: 9, Username: "joy", Roles: []string{model.RoleNurse}},
	"both":   {UserID: 8, Username: "wilson", Roles: []string{model.RoleDoctor, model.RoleNurse}},
}

// authed wraps h so the request's bearer token is decoded first.
func authed(h echo.HandlerFunc) echo.HandlerFunc {
	return middleware.JWTAuth(principals)(h)
}

func optional(h echo.HandlerFunc) echo.HandlerFunc {
	return middleware.OptionalJWT(principals)(h)
}

// do sends body (JSON-encoded unless it is already a []byte) and returns
// the recorder.
func do(t *testing.T, e *echo.Echo, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// fakePatients records the scope each call was made with.
type fakePatients struct {
	patients map[uint64]*model.Patient
	lastList model.PatientFilter
	created  *model.Patient
	actor    string
	assigned [2]uint64
	photo    string
	err      error
}

func newFakePatients(ps ...*model.Patient) *fakePatients {
	f := &fakePatients{patients: map[uint64]*model.Patient{}}
	for _, p := range ps {
		f.patients[p.ID] = p
	}
	return f
}

func (f *fakePatients) List(_ context.Context, flt model.PatientFilter) ([]*model.Patient, error) {
	f.lastList = flt
	out := []*model.Patient{}
	for _, p := range f.patients {
		if flt.DoctorID == nil || (p.DoctorID != nil && *p.DoctorID == *flt.DoctorID) {
			out = append(out, p)
		}
	}
	return out, f.err
}

func (f *fakePatients) Get(_ context.Context, id uint64, scope *uint64) (*model.Patient, error) {
	p, ok := f.patients[id]
	if !ok || (scope != nil && (p.DoctorID == nil || *p.DoctorID != *scope)) {
		return nil, repository.ErrPatientNotFound
	}
	return p, nil
}

func (f *fakePatients) Exists(_ context.Context, id uint64) (bool, error) {
	_, ok := f.patients[id]
	return ok, f.err
}

func (f *fakePatients) Create(_ context.Context, p *model.Patient, actor string) error {
	if f.err != nil {
		return f.err
	}
	p.ID = 100
	f.created, f.actor = p, actor
	return nil
}

func (f *fakePatients) Update(_ context.Context, p *model.Patient, actor string) error {
	if _, ok := f.patients[p.ID]; !ok {
		return repository.ErrPatientNotFound
	}
	f.actor = actor
	return f.err
}

func (f *fakePatients) Delete(_ context.Context, id uint64, actor string) error {
	if _, ok := f.patients[id]; !ok {
		return repository.ErrPatientNotFound
	}
	delete(f.patients, id)
	f.actor = actor
	return nil
}

func (f *fakePatients) AssignDoctor(_ context.Context, id, doctorID uint64, actor string) error {
	if f.err != nil {
		return f.err
	}
	f.assigned, f.actor = [2]uint64{id, doctorID}, actor
	return nil
}

func (f *fakePatients) SetPhoto(_ context.Context, id uint64, url, actor string) error {
	if f.err != nil {
		return f.err
	}
	f.photo, f.actor = url, actor
	if p, ok := f.patients[id]; ok {
		p.PhotoURL = &url
	}
	return nil
}

func uptr(v uint64) *uint64 { return &v }
