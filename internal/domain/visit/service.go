package visit

import (
	"context"
	"strings"
	"time"

	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/db"
)

const (
	// DefaultUpcomingLimit caps FindUpcoming when the caller passes no limit.
	DefaultUpcomingLimit = 20
	// CalendarLimit bounds the visits loaded for one calendar or export window.
	CalendarLimit = 2000
)

// RecordLookup resolves the patient that owns a clinical record.
type RecordLookup interface {
	PatientIDForRecord(ctx context.Context, recordID int64) (int64, error)
}

type Service struct {
	repo        Repository
	records     RecordLookup
	tx          db.TxBeginner
	windowLimit int
}

func NewService(repo Repository, records RecordLookup) *Service {
	return &Service{repo: repo, records: records, windowLimit: CalendarLimit}
}

// WithTransactions makes write-then-read operations run in one transaction.
func (s *Service) WithTransactions(b db.TxBeginner) *Service {
	s.tx = b
	return s
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.tx, fn)
}

// Create validates and stores v. When only the clinical record is given the
// patient is taken from the record.
func (s *Service) Create(ctx context.Context, v *Visit) (*Visit, error) {
	var missing []string
	if strings.TrimSpace(v.VisitType) == "" {
		missing = append(missing, "visit_type")
	}
	if v.VisitDate == nil {
		missing = append(missing, "visit_date")
	}
	if v.PatientID == 0 && v.ClinicalRecordID == nil {
		missing = append(missing, "patient_id")
	}
	if len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}

	if v.Status == "" {
		v.Status = DefaultCreateStatus
	}
	if !ValidStatus(v.Status) {
		return nil, apperr.Validation("invalid status: %s", v.Status)
	}
	if err := validateDuration(v.DurationMinutes); err != nil {
		return nil, err
	}

	var created *Visit
	err := s.inTx(ctx, func(ctx context.Context) error {
		if v.ClinicalRecordID != nil {
			owner, err := s.records.PatientIDForRecord(ctx, *v.ClinicalRecordID)
			if err != nil {
				return err
			}
			if v.PatientID == 0 {
				v.PatientID = owner
			} else if v.PatientID != owner {
				return apperr.Validation("clinical record %d does not belong to patient %d", *v.ClinicalRecordID, v.PatientID)
			}
		}
		if err := s.repo.Create(ctx, v); err != nil {
			return err
		}
		stored, err := s.repo.FindByID(ctx, v.ID)
		if err != nil {
			return err
		}
		created = stored
		if created == nil {
			created = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) FindByID(ctx context.Context, id int64) (*Visit, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByRecordDateType probes for an existing visit on the same record, date
// and type before a new one is logged.
func (s *Service) FindByRecordDateType(ctx context.Context, recordID int64, date time.Time, visitType string) (*Visit, error) {
	var missing []string
	if recordID == 0 {
		missing = append(missing, "clinical_record_id")
	}
	if strings.TrimSpace(visitType) == "" {
		missing = append(missing, "visit_type")
	}
	if len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}
	return s.repo.FindByRecordDateType(ctx, recordID, date, visitType)
}

func (s *Service) FindAll(ctx context.Context, f Filters, limit, offset int) ([]*Visit, error) {
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return nil, apperr.Validation("date_to is before date_from")
	}
	return s.repo.FindAll(ctx, f, limit, offset)
}

func (s *Service) FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Visit, error) {
	return s.repo.FindByPatientID(ctx, patientID, limit, offset)
}

func (s *Service) FindByRecordID(ctx context.Context, recordID int64, limit, offset int) ([]*Visit, error) {
	return s.repo.FindByRecordID(ctx, recordID, limit, offset)
}

func (s *Service) FindUpcoming(ctx context.Context, limit int) ([]*Visit, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	return s.repo.FindUpcoming(ctx, limit)
}

// Reschedule moves a visit to newDate and marks it rescheduled whatever its
// previous status. The duration is only changed when supplied.
func (s *Service) Reschedule(ctx context.Context, id int64, newDate *time.Time, duration *int) (*Visit, error) {
	if newDate == nil {
		return nil, apperr.MissingFields("new_date")
	}
	if err := validateDuration(duration); err != nil {
		return nil, err
	}
	return s.writeThenRead(ctx, id, func(ctx context.Context) (bool, error) {
		return s.repo.Reschedule(ctx, id, *newDate, duration)
	})
}

// Update replaces the clinical fields of a visit. Fields left nil in rep are
// cleared. Status is only changed when supplied.
func (s *Service) Update(ctx context.Context, id int64, rep Replacement) (*Visit, error) {
	if strings.TrimSpace(rep.VisitType) == "" {
		return nil, apperr.MissingFields("visit_type")
	}
	if rep.Status != nil && !ValidStatus(*rep.Status) {
		return nil, apperr.Validation("invalid status: %s", *rep.Status)
	}
	if err := validateDuration(rep.DurationMinutes); err != nil {
		return nil, err
	}
	return s.writeThenRead(ctx, id, func(ctx context.Context) (bool, error) {
		return s.repo.Update(ctx, id, rep)
	})
}

func (s *Service) writeThenRead(ctx context.Context, id int64, write func(ctx context.Context) (bool, error)) (*Visit, error) {
	var out *Visit
	err := s.inTx(ctx, func(ctx context.Context) error {
		ok, err := write(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("visit %d not found", id)
		}
		out, err = s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if out == nil {
			return apperr.NotFound("visit %d not found", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.repo.Delete(ctx, id)
}

func (s *Service) CountByPatientID(ctx context.Context, patientID int64) (int64, error) {
	return s.repo.CountByPatientID(ctx, patientID)
}

// Calendar loads the visits between start and end, oldest first, and
// projects them with the default palette. doctorID narrows to visits logged
// by that user.
func (s *Service) Calendar(ctx context.Context, start, end time.Time, doctorID *int64) ([]CalendarEvent, error) {
	visits, err := s.findWindow(ctx, Filters{DateFrom: &start, DateTo: &end, CreatedBy: doctorID, Ascending: true})
	if err != nil {
		return nil, err
	}
	return ProjectToCalendar(visits, DefaultStatusColors), nil
}

// Export renders the visits matching f as an XLSX workbook.
func (s *Service) Export(ctx context.Context, f Filters) ([]byte, error) {
	f.Ascending = true
	visits, err := s.findWindow(ctx, f)
	if err != nil {
		return nil, err
	}
	return ExportWorkbook(visits)
}

// findWindow loads every visit matching f, or fails when there are more than
// the window limit so callers never receive a silently cut list.
func (s *Service) findWindow(ctx context.Context, f Filters) ([]*Visit, error) {
	visits, err := s.FindAll(ctx, f, s.windowLimit+1, 0)
	if err != nil {
		return nil, err
	}
	if len(visits) > s.windowLimit {
		return nil, apperr.Validation("more than %d visits match; narrow the date range", s.windowLimit)
	}
	return visits, nil
}

func validateDuration(d *int) error {
	if d != nil && *d <= 0 {
		return apperr.Validation("duration_minutes must be positive")
	}
	return nil
}
