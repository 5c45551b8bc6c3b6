package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/iliyamo/patient-recovery/internal/model"
)

// DiagnosisRepo stores diagnoses.
type DiagnosisRepo struct {
	db *sql.DB
}

func NewDiagnosisRepo(db *sql.DB) *DiagnosisRepo { return &DiagnosisRepo{db: db} }

func diagnosisSelect() squirrel.SelectBuilder {
	return squirrel.Select("x.id", "x.patient_id", "x.symptoms", "x.recommendation", "x.recorded_at", "p.full_name").
		From(diagnosesTable + " x").
		LeftJoin("patients p ON p.id = x.patient_id")
}

func scanDiagnosis(row interface{ Scan(...any) error }) (*model.Diagnosis, error) {
	var (
		d    model.Diagnosis
		name sql.NullString
	)
	if err := row.Scan(&d.ID, &d.PatientID, &d.Symptoms, &d.Recommendation, &d.RecordedAt, &name); err != nil {
		return nil, err
	}
	d.Patient = patientSummary(d.PatientID, name)
	return &d, nil
}

// List returns diagnoses newest first.
func (r *DiagnosisRepo) List(ctx context.Context, f model.ClinicalFilter) ([]*model.Diagnosis, error) {
	query, args, err := byPatient(diagnosisSelect(), "x", f).OrderBy("x.recorded_at DESC", "x.id DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Diagnosis{}
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get fetches a diagnosis by id.
func (r *DiagnosisRepo) Get(ctx context.Context, id uint64) (*model.Diagnosis, error) {
	query, args, err := diagnosisSelect().Where(squirrel.Eq{"x.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	d, err := scanDiagnosis(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiagnosisNotFound
	}
	return d, err
}

// Create inserts d and sets its id. An unknown patient yields
// ErrPatientNotFound.
func (r *DiagnosisRepo) Create(ctx context.Context, d *model.Diagnosis) error {
	id, err := insertClinical(ctx, r.db, squirrel.Insert(diagnosesTable).
		Columns("patient_id", "symptoms", "recommendation", "recorded_at").
		Values(d.PatientID, d.Symptoms, d.Recommendation, d.RecordedAt))
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// Update rewrites the diagnosis identified by d.ID.
func (r *DiagnosisRepo) Update(ctx context.Context, d *model.Diagnosis) error {
	ok, err := rowExists(ctx, r.db, diagnosesTable, d.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDiagnosisNotFound
	}
	q := squirrel.Update(diagnosesTable).
		Set("patient_id", d.PatientID).
		Set("symptoms", d.Symptoms).
		Set("recommendation", d.Recommendation)
	if !d.RecordedAt.IsZero() {
		q = q.Set("recorded_at", d.RecordedAt)
	}
	query, args, err := q.Where(squirrel.Eq{"id": d.ID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isMissingReference(err) {
			return ErrPatientNotFound
		}
		return err
	}
	return nil
}

// Delete removes a diagnosis.
func (r *DiagnosisRepo) Delete(ctx context.Context, id uint64) error {
	return deleteByID(ctx, r.db, diagnosesTable, id, ErrDiagnosisNotFound)
}
