package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/patient-recovery/internal/model"
)

func TestVitalRepo_Create_UnknownPatient(t *testing.T) {
	db, mock := newMock(t)
	repo := NewVitalRepo(db)

	mock.ExpectExec(`INSERT INTO vital_records`).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})

	err := repo.Create(context.Background(), &model.VitalRecord{PatientID: 404, RecordedAt: time.Now()})
	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVitalRepo_List_FilterAndOrder(t *testing.T) {
	db, mock := newMock(t)
	repo := NewVitalRepo(db)
	pid := uint64(3)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE v.patient_id = \? ORDER BY v.recorded_at DESC, v.id DESC`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "patient_id", "temperature", "blood_pressure_systolic",
			"blood_pressure_diastolic", "pulse", "notes", "recorded_at", "full_name",
		}).AddRow(2, 3, "38.5", 130, 85, 90, "", at, "Jane Roe"))

	got, err := repo.List(context.Background(), model.ClinicalFilter{PatientID: &pid})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 38.5, got[0].Temperature, 0.001)
	require.NotNil(t, got[0].Patient)
	assert.Equal(t, "Jane Roe", got[0].Patient.FullName)
}

func TestVitalRepo_Update_MissingRecord(t *testing.T) {
	db, mock := newMock(t)
	repo := NewVitalRepo(db)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM vital_records WHERE id = \?\)`).WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))

	err := repo.Update(context.Background(), &model.VitalRecord{ID: 8, PatientID: 1})
	assert.ErrorIs(t, err, ErrVitalNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRehabRepo_Delete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRehabRepo(db)

	mock.ExpectExec(`DELETE FROM rehabilitation_logs WHERE id = \?`).WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM rehabilitation_logs WHERE id = \?`).WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), 4))
	assert.ErrorIs(t, repo.Delete(context.Background(), 4), ErrRehabLogNotFound)
}

func TestDiagnosisRepo_Get_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDiagnosisRepo(db)

	mock.ExpectQuery(`FROM diagnoses x LEFT JOIN patients p ON p.id = x.patient_id WHERE x.id = \?`).WithArgs(6).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_id", "symptoms", "recommendation", "recorded_at", "full_name"}))

	_, err := repo.Get(context.Background(), 6)
	assert.ErrorIs(t, err, ErrDiagnosisNotFound)
}
