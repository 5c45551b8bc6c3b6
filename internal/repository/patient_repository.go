package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/iliyamo/patient-recovery/internal/model"
)

const patientsTable = "patients"

// PatientRepo stores patients. Every mutation writes its audit entry in the
// same transaction.
type PatientRepo struct {
	db *sql.DB
}

// NewPatientRepo constructs a PatientRepo with the given DB handle.
func NewPatientRepo(db *sql.DB) *PatientRepo {
	return &PatientRepo{db: db}
}

func patientSelect() squirrel.SelectBuilder {
	return squirrel.Select(
		"p.id", "p.full_name", "p.birth_date", "p.contact_number", "p.address",
		"p.photo_url", "p.doctor_id", "d.username",
	).From("patients p").LeftJoin("users d ON d.id = p.doctor_id")
}

func scanPatient(row interface{ Scan(...any) error }) (*model.Patient, error) {
	var (
		p          model.Patient
		photo      sql.NullString
		doctorID   sql.NullInt64
		doctorName sql.NullString
	)
	if err := row.Scan(&p.ID, &p.FullName, &p.BirthDate, &p.ContactNumber, &p.Address,
		&photo, &doctorID, &doctorName); err != nil {
		return nil, err
	}
	if photo.Valid {
		v := photo.String
		p.PhotoURL = &v
	}
	if doctorID.Valid {
		id := uint64(doctorID.Int64)
		p.DoctorID = &id
		if doctorName.Valid {
			p.Doctor = &model.UserSummary{ID: id, Username: doctorName.String}
		}
	}
	return &p, nil
}

// escapeLike neutralises LIKE wildcards in user supplied search text.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List returns patients matching the filter. A non-nil DoctorID restricts
// rows in the WHERE clause; this is how a Doctor's visibility is applied.
func (r *PatientRepo) List(ctx context.Context, f model.PatientFilter) ([]*model.Patient, error) {
	q := patientSelect()
	if f.DoctorID != nil {
		q = q.Where(squirrel.Eq{"p.doctor_id": *f.DoctorID})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q = q.Where(squirrel.Like{"p.full_name": "%" + escapeLike(s) + "%"})
	}
	query, args, err := q.OrderBy("p.id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get fetches one patient. When doctorScope is non-nil the row must also be
// assigned to that doctor; otherwise ErrPatientNotFound is returned, exactly
// as for a missing id.
func (r *PatientRepo) Get(ctx context.Context, id uint64, doctorScope *uint64) (*model.Patient, error) {
	q := patientSelect().Where(squirrel.Eq{"p.id": id})
	if doctorScope != nil {
		q = q.Where(squirrel.Eq{"p.doctor_id": *doctorScope})
	}
	query, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	p, err := scanPatient(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

// Exists reports whether a patient with id exists.
func (r *PatientRepo) Exists(ctx context.Context, id uint64) (bool, error) {
	return rowExists(ctx, r.db, patientsTable, id)
}

// Create inserts p, sets p.ID and records the action for actor. When
// p.DoctorID is set the referenced user must hold the Doctor role.
func (r *PatientRepo) Create(ctx context.Context, p *model.Patient, actor string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if p.DoctorID != nil {
			ok, err := hasRole(ctx, tx, *p.DoctorID, model.RoleDoctor)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotADoctor
			}
		}
		query, args, err := squirrel.Insert(patientsTable).
			Columns("full_name", "birth_date", "contact_number", "address", "photo_url", "doctor_id").
			Values(p.FullName, p.BirthDate, p.ContactNumber, p.Address, p.PhotoURL, p.DoctorID).
			ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = uint64(id)
		return appendAudit(ctx, tx, actor, fmt.Sprintf("created patient: %s", p.FullName))
	})
}

// lockPatient confirms the patient exists and holds its row until commit.
func lockPatient(ctx context.Context, tx *sql.Tx, id uint64) error {
	var got uint64
	err := tx.QueryRowContext(ctx, "SELECT id FROM patients WHERE id = ? FOR UPDATE", id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPatientNotFound
	}
	return err
}

// Update overwrites the demographic fields of p. The doctor assignment and
// the photo are left untouched; they have dedicated operations.
func (r *PatientRepo) Update(ctx context.Context, p *model.Patient, actor string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockPatient(ctx, tx, p.ID); err != nil {
			return err
		}
		query, args, err := squirrel.Update(patientsTable).
			Set("full_name", p.FullName).
			Set("birth_date", p.BirthDate).
			Set("contact_number", p.ContactNumber).
			Set("address", p.Address).
			Where(squirrel.Eq{"id": p.ID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		return appendAudit(ctx, tx, actor, fmt.Sprintf("updated patient ID: %d", p.ID))
	})
}

// Delete removes a patient; clinical rows go with it through the foreign keys.
func (r *PatientRepo) Delete(ctx context.Context, id uint64, actor string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM patients WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPatientNotFound
		}
		return appendAudit(ctx, tx, actor, fmt.Sprintf("deleted patient ID: %d", id))
	})
}

// AssignDoctor points the patient at doctorID, which must hold the Doctor
// role (ErrNotADoctor otherwise).
func (r *PatientRepo) AssignDoctor(ctx context.Context, id, doctorID uint64, actor string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockPatient(ctx, tx, id); err != nil {
			return err
		}
		ok, err := hasRole(ctx, tx, doctorID, model.RoleDoctor)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotADoctor
		}
		if _, err := tx.ExecContext(ctx, "UPDATE patients SET doctor_id = ? WHERE id = ?", doctorID, id); err != nil {
			return err
		}
		return appendAudit(ctx, tx, actor, fmt.Sprintf("assigned doctor ID %d to patient ID %d", doctorID, id))
	})
}

// SetPhoto records the public URL of the patient's uploaded photo.
func (r *PatientRepo) SetPhoto(ctx context.Context, id uint64, url, actor string) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockPatient(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE patients SET photo_url = ? WHERE id = ?", url, id); err != nil {
			return err
		}
		return appendAudit(ctx, tx, actor, fmt.Sprintf("updated photo of patient ID: %d", id))
	})
}
