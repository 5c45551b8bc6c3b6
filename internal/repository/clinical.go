package repository

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"github.com/iliyamo/patient-recovery/internal/model"
)

const (
	diagnosesTable = "diagnoses"
	vitalsTable    = "vital_records"
	rehabTable     = "rehabilitation_logs"
)

// byPatient narrows a clinical listing when the filter names a patient.
func byPatient(q squirrel.SelectBuilder, alias string, f model.ClinicalFilter) squirrel.SelectBuilder {
	if f.PatientID != nil {
		q = q.Where(squirrel.Eq{alias + ".patient_id": *f.PatientID})
	}
	return q
}

// patientSummary builds the embedded patient reference from a LEFT JOIN.
func patientSummary(id uint64, name sql.NullString) *model.PatientSummary {
	if !name.Valid {
		return nil
	}
	return &model.PatientSummary{ID: id, FullName: name.String}
}

// insertClinical runs an insert whose patient_id may not reference an
// existing patient and returns the new row id.
func insertClinical(ctx context.Context, ex execer, q squirrel.InsertBuilder) (uint64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		if isMissingReference(err) {
			return 0, ErrPatientNotFound
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// deleteByID removes one row and reports notFound when nothing matched.
func deleteByID(ctx context.Context, ex execer, table string, id uint64, notFound error) error {
	res, err := ex.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}
