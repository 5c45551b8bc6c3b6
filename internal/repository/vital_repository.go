package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/iliyamo/patient-recovery/internal/model"
)

// VitalRepo stores vital-sign readings.
type VitalRepo struct {
	db *sql.DB
}

func NewVitalRepo(db *sql.DB) *VitalRepo { return &VitalRepo{db: db} }

func vitalSelect() squirrel.SelectBuilder {
	return squirrel.Select(
		"v.id", "v.patient_id", "v.temperature", "v.blood_pressure_systolic",
		"v.blood_pressure_diastolic", "v.pulse", "v.notes", "v.recorded_at", "p.full_name",
	).From(vitalsTable + " v").LeftJoin("patients p ON p.id = v.patient_id")
}

func scanVital(row interface{ Scan(...any) error }) (*model.VitalRecord, error) {
	var (
		v    model.VitalRecord
		name sql.NullString
	)
	if err := row.Scan(&v.ID, &v.PatientID, &v.Temperature, &v.BloodPressureSystolic,
		&v.BloodPressureDiastolic, &v.Pulse, &v.Notes, &v.RecordedAt, &name); err != nil {
		return nil, err
	}
	v.Patient = patientSummary(v.PatientID, name)
	return &v, nil
}

// List returns readings newest first, optionally for one patient.
func (r *VitalRepo) List(ctx context.Context, f model.ClinicalFilter) ([]*model.VitalRecord, error) {
	query, args, err := byPatient(vitalSelect(), "v", f).OrderBy("v.recorded_at DESC", "v.id DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.VitalRecord{}
	for rows.Next() {
		v, err := scanVital(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *VitalRepo) Get(ctx context.Context, id uint64) (*model.VitalRecord, error) {
	query, args, err := vitalSelect().Where(squirrel.Eq{"v.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	v, err := scanVital(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVitalNotFound
	}
	return v, err
}

// Create persists v. Alert evaluation happens before this call and is not
// repeated here.
func (r *VitalRepo) Create(ctx context.Context, v *model.VitalRecord) error {
	id, err := insertClinical(ctx, r.db, squirrel.Insert(vitalsTable).
		Columns("patient_id", "temperature", "blood_pressure_systolic", "blood_pressure_diastolic",
			"pulse", "notes", "recorded_at").
		Values(v.PatientID, v.Temperature, v.BloodPressureSystolic, v.BloodPressureDiastolic,
			v.Pulse, v.Notes, v.RecordedAt))
	if err != nil {
		return err
	}
	v.ID = id
	return nil
}

// Update rewrites a reading. A zero RecordedAt keeps the stored timestamp.
func (r *VitalRepo) Update(ctx context.Context, v *model.VitalRecord) error {
	ok, err := rowExists(ctx, r.db, vitalsTable, v.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVitalNotFound
	}
	q := squirrel.Update(vitalsTable).
		Set("patient_id", v.PatientID).
		Set("temperature", v.Temperature).
		Set("blood_pressure_systolic", v.BloodPressureSystolic).
		Set("blood_pressure_diastolic", v.BloodPressureDiastolic).
		Set("pulse", v.Pulse).
		Set("notes", v.Notes)
	if !v.RecordedAt.IsZero() {
		q = q.Set("recorded_at", v.RecordedAt)
	}
	query, args, err := q.Where(squirrel.Eq{"id": v.ID}).ToSql()
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

func (r *VitalRepo) Delete(ctx context.Context, id uint64) error {
	return deleteByID(ctx, r.db, vitalsTable, id, ErrVitalNotFound)
}
