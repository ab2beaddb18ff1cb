package visit

import (
	"context"
	"time"
)

// Repository persists visits. Lookups return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	FindByID(ctx context.Context, id int64) (*Visit, error)
	FindByRecordDateType(ctx context.Context, recordID int64, date time.Time, visitType string) (*Visit, error)
	FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Visit, error)
	FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Visit, error)
	FindByRecordID(ctx context.Context, recordID int64, limit, offset int) ([]*Visit, error)
	FindUpcoming(ctx context.Context, limit int) ([]*Visit, error)
	Reschedule(ctx context.Context, id int64, newDate time.Time, duration *int) (bool, error)
	Update(ctx context.Context, id int64, r Replacement) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	CountByPatientID(ctx context.Context, patientID int64) (int64, error)
}
