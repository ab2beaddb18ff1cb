package clinical

import "context"

// Repository persists clinical records. Lookups return nil, nil when the
// record does not exist.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	FindByID(ctx context.Context, id int64) (*Record, error)
	FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Record, error)
	FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Record, error)
	Update(ctx context.Context, id int64, u RecordUpdate) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	CountByPatientID(ctx context.Context, patientID int64) (int64, error)
	Statistics(ctx context.Context) (*Statistics, error)
}
