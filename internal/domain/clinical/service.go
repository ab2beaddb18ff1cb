package clinical

import (
	"context"
	"strings"

	"github.com/clinops/clinops/internal/platform/apperr"
)

type Service struct {
	repo    Repository
	numbers *NumberGenerator
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, numbers: NewNumberGenerator()}
}

// Create validates and stores rec, then returns the persisted row with its
// display joins. A record number is generated when none is supplied.
func (s *Service) Create(ctx context.Context, rec *Record) (*Record, error) {
	var missing []string
	if rec.PatientID == 0 {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(rec.RecordType) == "" {
		missing = append(missing, "record_type")
	}
	if strings.TrimSpace(rec.Title) == "" {
		missing = append(missing, "title")
	}
	if len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}

	if rec.Status == "" {
		rec.Status = StatusActive
	}
	if !ValidStatus(rec.Status) {
		return nil, apperr.Validation("invalid status: %s", rec.Status)
	}
	if rec.RecordNumber == "" {
		rec.RecordNumber = s.numbers.Next()
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindByID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return rec, nil
	}
	return stored, nil
}

// FindByID returns nil, nil when the record does not exist.
func (s *Service) FindByID(ctx context.Context, id int64) (*Record, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Record, error) {
	return s.repo.FindByPatientID(ctx, patientID, limit, offset)
}

func (s *Service) FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Record, error) {
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, apperr.Validation("date_to is before date_from")
	}
	return s.repo.FindAll(ctx, f, limit, offset)
}

// Update applies a partial update and returns the updated record.
func (s *Service) Update(ctx context.Context, id int64, u RecordUpdate) (*Record, error) {
	required := []struct {
		name string
		val  Optional[string]
	}{
		{"record_number", u.RecordNumber},
		{"record_type", u.RecordType},
		{"title", u.Title},
		{"status", u.Status},
	}
	for _, f := range required {
		if f.val.Set && (f.val.Value == nil || strings.TrimSpace(*f.val.Value) == "") {
			return nil, apperr.Validation("%s cannot be empty", f.name)
		}
	}
	if u.Status.Set && !ValidStatus(*u.Status.Value) {
		return nil, apperr.Validation("invalid status: %s", *u.Status.Value)
	}

	ok, err := s.repo.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("clinical record %d not found", id)
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.NotFound("clinical record %d not found", id)
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.repo.Delete(ctx, id)
}

func (s *Service) CountByPatientID(ctx context.Context, patientID int64) (int64, error) {
	return s.repo.CountByPatientID(ctx, patientID)
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.repo.Statistics(ctx)
}

// PatientIDForRecord resolves the patient a record belongs to. Visits created
// against a record use it to derive their patient link.
func (s *Service) PatientIDForRecord(ctx context.Context, recordID int64) (int64, error) {
	rec, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, apperr.Reference("clinical record %d does not exist", recordID)
	}
	return rec.PatientID, nil
}
