package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/clinops/clinops/internal/platform/db"
)

type repoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recordSelect = `SELECT cr.id, cr.patient_id, cr.record_number, cr.record_type, cr.title,
	cr.status, cr.diagnosis, cr.treatment_plan, cr.medications, cr.notes, cr.created_by,
	cr.created_at, cr.updated_at,
	p.first_name, p.last_name, p.fiscal_code, u.username
FROM clinical_records cr
LEFT JOIN patients p ON p.id = cr.patient_id
LEFT JOIN users u ON u.id = cr.created_by`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.RecordNumber, &rec.RecordType, &rec.Title,
		&rec.Status, &rec.Diagnosis, &rec.TreatmentPlan, &rec.Medications, &rec.Notes, &rec.CreatedBy,
		&rec.CreatedAt, &rec.UpdatedAt,
		&rec.PatientFirstName, &rec.PatientLastName, &rec.PatientIdentifier, &rec.AuthorUsername)
	return &rec, err
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_records (patient_id, record_number, record_type, title, status,
			diagnosis, treatment_plan, medications, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at, updated_at`,
		rec.PatientID, rec.RecordNumber, rec.RecordType, rec.Title, rec.Status,
		rec.Diagnosis, rec.TreatmentPlan, rec.Medications, rec.Notes, rec.CreatedBy,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) FindByID(ctx context.Context, id int64) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, recordSelect+` WHERE cr.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *repoPG) FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Record, error) {
	return r.FindAll(ctx, Filters{PatientID: &patientID}, limit, offset)
}

// buildRecordFilter renders the WHERE clause for f. Only supplied filters
// appear in the SQL; the date range applies to created_at.
func buildRecordFilter(f Filters) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(` AND cr.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.CreatedBy != nil {
		where += fmt.Sprintf(` AND cr.created_by = $%d`, idx)
		args = append(args, *f.CreatedBy)
		idx++
	}
	if f.DateFrom != nil {
		where += fmt.Sprintf(` AND cr.created_at >= $%d`, idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(` AND cr.created_at <= $%d`, idx)
		args = append(args, *f.DateTo)
	}
	return where, args
}

func (r *repoPG) FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Record, error) {
	where, args := buildRecordFilter(f)
	n := len(args)
	query := recordSelect + where +
		fmt.Sprintf(` ORDER BY cr.created_at DESC, cr.id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

// buildRecordUpdate renders an UPDATE touching only the supplied fields.
// updated_at is always refreshed, so an empty update is still a valid
// statement.
func buildRecordUpdate(id int64, u RecordUpdate) (string, []interface{}) {
	sets := []string{"updated_at = NOW()"}
	var args []interface{}
	add := func(col string, o Optional[string]) {
		if !o.Set {
			return
		}
		args = append(args, o.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("record_number", u.RecordNumber)
	add("record_type", u.RecordType)
	add("title", u.Title)
	add("status", u.Status)
	add("diagnosis", u.Diagnosis)
	add("treatment_plan", u.TreatmentPlan)
	add("medications", u.Medications)
	add("notes", u.Notes)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE clinical_records SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	return query, args
}

func (r *repoPG) Update(ctx context.Context, id int64, u RecordUpdate) (bool, error) {
	query, args := buildRecordUpdate(id, u)
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_records WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) CountByPatientID(ctx context.Context, patientID int64) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_records WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}

func (r *repoPG) Statistics(ctx context.Context) (*Statistics, error) {
	var s Statistics
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE),
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE - INTERVAL '7 days'),
			COUNT(DISTINCT patient_id)
		FROM clinical_records`,
	).Scan(&s.Total, &s.CreatedToday, &s.CreatedLast7Days, &s.DistinctPatients)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
