package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/iliyamo/patient-recovery/internal/model"
)

// RehabRepo stores rehabilitation logs.
type RehabRepo struct {
	db *sql.DB
}

func NewRehabRepo(db *sql.DB) *RehabRepo { return &RehabRepo{db: db} }

func rehabSelect() squirrel.SelectBuilder {
	return squirrel.Select("l.id", "l.patient_id", "l.activities", "l.notes", "l.logged_at", "p.full_name").
		From(rehabTable + " l").
		LeftJoin("patients p ON p.id = l.patient_id")
}

func scanRehab(row interface{ Scan(...any) error }) (*model.RehabilitationLog, error) {
	var (
		l    model.RehabilitationLog
		name sql.NullString
	)
	if err := row.Scan(&l.ID, &l.PatientID, &l.Activities, &l.Notes, &l.LoggedAt, &name); err != nil {
		return nil, err
	}
	l.Patient = patientSummary(l.PatientID, name)
	return &l, nil
}

func (r *RehabRepo) List(ctx context.Context, f model.ClinicalFilter) ([]*model.RehabilitationLog, error) {
	query, args, err := byPatient(rehabSelect(), "l", f).OrderBy("l.logged_at DESC", "l.id DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.RehabilitationLog{}
	for rows.Next() {
		l, err := scanRehab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *RehabRepo) Get(ctx context.Context, id uint64) (*model.RehabilitationLog, error) {
	query, args, err := rehabSelect().Where(squirrel.Eq{"l.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	l, err := scanRehab(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRehabLogNotFound
	}
	return l, err
}

func (r *RehabRepo) Create(ctx context.Context, l *model.RehabilitationLog) error {
	id, err := insertClinical(ctx, r.db, squirrel.Insert(rehabTable).
		Columns("patient_id", "activities", "notes", "logged_at").
		Values(l.PatientID, l.Activities, l.Notes, l.LoggedAt))
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// Update rewrites a log entry; a zero LoggedAt keeps the stored time.
func (r *RehabRepo) Update(ctx context.Context, l *model.RehabilitationLog) error {
	ok, err := rowExists(ctx, r.db, rehabTable, l.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRehabLogNotFound
	}
	q := squirrel.Update(rehabTable).
		Set("patient_id", l.PatientID).
		Set("activities", l.Activities).
		Set("notes", l.Notes)
	if !l.LoggedAt.IsZero() {
		q = q.Set("logged_at", l.LoggedAt)
	}
	query, args, err := q.Where(squirrel.Eq{"id": l.ID}).ToSql()
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

func (r *RehabRepo) Delete(ctx context.Context, id uint64) error {
	return deleteByID(ctx, r.db, rehabTable, id, ErrRehabLogNotFound)
}
