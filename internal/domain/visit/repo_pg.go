package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinops/clinops/internal/platform/db"
)

type repoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitSelect = `SELECT v.id, v.patient_id, v.clinical_record_id, v.visit_type, v.visit_date,
	v.duration_minutes, v.doctor_name, v.notes, v.diagnosis, v.treatment_plan, v.follow_up_date,
	v.status, v.created_by, v.created_at, v.updated_at,
	p.first_name, p.last_name, cr.record_number
FROM visits v
LEFT JOIN patients p ON p.id = v.patient_id
LEFT JOIN clinical_records cr ON cr.id = v.clinical_record_id`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.ClinicalRecordID, &v.VisitType, &v.VisitDate,
		&v.DurationMinutes, &v.DoctorName, &v.Notes, &v.Diagnosis, &v.TreatmentPlan, &v.FollowUpDate,
		&v.Status, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
		&v.PatientFirstName, &v.PatientLastName, &v.RecordNumber)
	return &v, err
}

func (r *repoPG) queryOne(ctx context.Context, query string, args ...interface{}) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) queryMany(ctx context.Context, query string, args ...interface{}) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (patient_id, clinical_record_id, visit_type, visit_date, duration_minutes,
			doctor_name, notes, diagnosis, treatment_plan, follow_up_date, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`,
		v.PatientID, v.ClinicalRecordID, v.VisitType, v.VisitDate, v.DurationMinutes,
		v.DoctorName, v.Notes, v.Diagnosis, v.TreatmentPlan, v.FollowUpDate, v.Status, v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

func (r *repoPG) FindByID(ctx context.Context, id int64) (*Visit, error) {
	return r.queryOne(ctx, visitSelect+` WHERE v.id = $1`, id)
}

func (r *repoPG) FindByRecordDateType(ctx context.Context, recordID int64, date time.Time, visitType string) (*Visit, error) {
	return r.queryOne(ctx, visitSelect+`
		WHERE v.clinical_record_id = $1 AND v.visit_date = $2 AND v.visit_type = $3
		ORDER BY v.id LIMIT 1`, recordID, date, visitType)
}

// buildVisitFilter renders the WHERE clause and ordering for f. Only supplied
// filters appear in the SQL.
func buildVisitFilter(f Filters) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.VisitType != "" {
		where += fmt.Sprintf(` AND v.visit_type = $%d`, idx)
		args = append(args, f.VisitType)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND v.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.CreatedBy != nil {
		where += fmt.Sprintf(` AND v.created_by = $%d`, idx)
		args = append(args, *f.CreatedBy)
		idx++
	}
	if f.DateFrom != nil {
		where += fmt.Sprintf(` AND v.visit_date >= $%d`, idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(` AND v.visit_date <= $%d`, idx)
		args = append(args, *f.DateTo)
	}

	if f.Ascending {
		where += ` ORDER BY v.visit_date ASC NULLS LAST, v.id ASC`
	} else {
		where += ` ORDER BY v.visit_date DESC NULLS LAST, v.id DESC`
	}
	return where, args
}

func (r *repoPG) FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Visit, error) {
	clause, args := buildVisitFilter(f)
	n := len(args)
	query := visitSelect + clause + fmt.Sprintf(` LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)
	return r.queryMany(ctx, query, args...)
}

func (r *repoPG) FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Visit, error) {
	return r.FindAll(ctx, Filters{PatientID: &patientID}, limit, offset)
}

func (r *repoPG) FindByRecordID(ctx context.Context, recordID int64, limit, offset int) ([]*Visit, error) {
	return r.queryMany(ctx, visitSelect+`
		WHERE v.clinical_record_id = $1
		ORDER BY v.visit_date DESC NULLS LAST, v.id DESC LIMIT $2 OFFSET $3`, recordID, limit, offset)
}

func (r *repoPG) FindUpcoming(ctx context.Context, limit int) ([]*Visit, error) {
	return r.queryMany(ctx, visitSelect+`
		WHERE v.visit_date >= CURRENT_DATE
		ORDER BY v.visit_date ASC, v.id ASC LIMIT $1`, limit)
}

func (r *repoPG) Reschedule(ctx context.Context, id int64, newDate time.Time, duration *int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits
		SET status = $1, visit_date = $2,
			duration_minutes = COALESCE($3, duration_minutes),
			updated_at = NOW()
		WHERE id = $4`, StatusRescheduled, newDate, duration, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// buildVisitReplace renders the full-replace UPDATE. The clinical fields are
// always written; status only when supplied.
func buildVisitReplace(id int64, rep Replacement) (string, []interface{}) {
	query := `UPDATE visits SET visit_type = $1, visit_date = $2, duration_minutes = $3,
		notes = $4, diagnosis = $5, treatment_plan = $6, follow_up_date = $7, updated_at = NOW()`
	args := []interface{}{rep.VisitType, rep.VisitDate, rep.DurationMinutes,
		rep.Notes, rep.Diagnosis, rep.TreatmentPlan, rep.FollowUpDate}
	if rep.Status != nil {
		args = append(args, *rep.Status)
		query += fmt.Sprintf(`, status = $%d`, len(args))
	}
	args = append(args, id)
	query += fmt.Sprintf(` WHERE id = $%d`, len(args))
	return query, args
}

func (r *repoPG) Update(ctx context.Context, id int64, rep Replacement) (bool, error) {
	query, args := buildVisitReplace(id, rep)
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) CountByPatientID(ctx context.Context, patientID int64) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}
