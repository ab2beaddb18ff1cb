package visit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/clinops/clinops/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	mu     sync.Mutex
	visits map[int64]*Visit
	nextID int64
	now    time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{visits: make(map[int64]*Visit), now: time.Now()}
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	v.ID = m.nextID
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	m.visits[v.ID] = &cp
	return nil
}

func (m *mockRepo) FindByID(_ context.Context, id int64) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *mockRepo) FindByRecordDateType(_ context.Context, recordID int64, date time.Time, visitType string) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.sorted(true) {
		if v.ClinicalRecordID != nil && *v.ClinicalRecordID == recordID &&
			v.VisitDate != nil && v.VisitDate.Equal(date) && v.VisitType == visitType {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) sorted(asc bool) []*Visit {
	items := make([]*Visit, 0, len(m.visits))
	for _, v := range m.visits {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.VisitDate == nil || b.VisitDate == nil || a.VisitDate.Equal(*b.VisitDate) {
			if asc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if asc {
			return a.VisitDate.Before(*b.VisitDate)
		}
		return a.VisitDate.After(*b.VisitDate)
	})
	return items
}

func page(items []*Visit, limit, offset int) []*Visit {
	if offset >= len(items) {
		return []*Visit{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *mockRepo) FindAll(_ context.Context, f Filters, limit, offset int) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []*Visit{}
	for _, v := range m.sorted(f.Ascending) {
		if f.VisitType != "" && v.VisitType != f.VisitType {
			continue
		}
		if f.PatientID != nil && v.PatientID != *f.PatientID {
			continue
		}
		if f.CreatedBy != nil && (v.CreatedBy == nil || *v.CreatedBy != *f.CreatedBy) {
			continue
		}
		if f.DateFrom != nil && (v.VisitDate == nil || v.VisitDate.Before(*f.DateFrom)) {
			continue
		}
		if f.DateTo != nil && (v.VisitDate == nil || v.VisitDate.After(*f.DateTo)) {
			continue
		}
		cp := *v
		items = append(items, &cp)
	}
	return page(items, limit, offset), nil
}

func (m *mockRepo) FindByPatientID(ctx context.Context, patientID int64, limit, offset int) ([]*Visit, error) {
	return m.FindAll(ctx, Filters{PatientID: &patientID}, limit, offset)
}

func (m *mockRepo) FindByRecordID(_ context.Context, recordID int64, limit, offset int) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []*Visit{}
	for _, v := range m.sorted(false) {
		if v.ClinicalRecordID != nil && *v.ClinicalRecordID == recordID {
			cp := *v
			items = append(items, &cp)
		}
	}
	return page(items, limit, offset), nil
}

func (m *mockRepo) FindUpcoming(_ context.Context, limit int) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := m.now.Truncate(24 * time.Hour)
	items := []*Visit{}
	for _, v := range m.sorted(true) {
		if v.VisitDate != nil && !v.VisitDate.Before(today) {
			cp := *v
			items = append(items, &cp)
		}
	}
	return page(items, limit, 0), nil
}

func (m *mockRepo) Reschedule(_ context.Context, id int64, newDate time.Time, duration *int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return false, nil
	}
	v.Status = StatusRescheduled
	v.VisitDate = &newDate
	if duration != nil {
		v.DurationMinutes = duration
	}
	v.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepo) Update(_ context.Context, id int64, rep Replacement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return false, nil
	}
	v.VisitType = rep.VisitType
	v.VisitDate = rep.VisitDate
	v.DurationMinutes = rep.DurationMinutes
	v.Notes = rep.Notes
	v.Diagnosis = rep.Diagnosis
	v.TreatmentPlan = rep.TreatmentPlan
	v.FollowUpDate = rep.FollowUpDate
	if rep.Status != nil {
		v.Status = *rep.Status
	}
	v.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.visits[id]
	delete(m.visits, id)
	return ok, nil
}

func (m *mockRepo) CountByPatientID(_ context.Context, patientID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.visits {
		if v.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

// stubRecords maps record ids to owning patients.
type stubRecords map[int64]int64

func (s stubRecords) PatientIDForRecord(_ context.Context, recordID int64) (int64, error) {
	pid, ok := s[recordID]
	if !ok {
		return 0, apperr.Reference("clinical record %d does not exist", recordID)
	}
	return pid, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, stubRecords{10: 1, 11: 2}), repo
}

func ptr[T any](v T) *T { return &v }

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func mustCreate(t *testing.T, svc *Service, v *Visit) *Visit {
	t.Helper()
	created, err := svc.Create(context.Background(), v)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

// -- Tests --

func TestService_Create_Defaults(t *testing.T) {
	svc, _ := newTestService()
	v := mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "therapy", VisitDate: at("2025-06-01T09:00:00Z")})

	if DefaultCreateStatus != StatusCompleted {
		t.Fatalf("expected default create status completed, got %s", DefaultCreateStatus)
	}
	if v.Status != StatusCompleted {
		t.Errorf("expected default status completed, got %s", v.Status)
	}
	if v.DurationMinutes != nil {
		t.Errorf("expected duration to stay null, got %d", *v.DurationMinutes)
	}
}

func TestService_Create_MissingFields(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), &Visit{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := "Missing required fields: patient_id, visit_date, visit_type"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestService_Create_DerivesPatientFromRecord(t *testing.T) {
	svc, _ := newTestService()
	v := mustCreate(t, svc, &Visit{ClinicalRecordID: ptr(int64(11)), VisitType: "evaluation", VisitDate: at("2025-06-01T09:00:00Z")})
	if v.PatientID != 2 {
		t.Errorf("expected patient 2 from record 11, got %d", v.PatientID)
	}
}

func TestService_Create_RecordErrors(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), &Visit{ClinicalRecordID: ptr(int64(99)), VisitType: "x", VisitDate: at("2025-06-01T09:00:00Z")})
	if apperr.KindOf(err) != apperr.KindReference {
		t.Errorf("expected reference error for unknown record, got %v", err)
	}

	_, err = svc.Create(context.Background(), &Visit{PatientID: 1, ClinicalRecordID: ptr(int64(11)), VisitType: "x", VisitDate: at("2025-06-01T09:00:00Z")})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for mismatched patient, got %v", err)
	}
}

func TestService_Create_InvalidInput(t *testing.T) {
	svc, _ := newTestService()
	date := at("2025-06-01T09:00:00Z")
	for name, v := range map[string]*Visit{
		"bad status":        {PatientID: 1, VisitType: "x", VisitDate: date, Status: "done"},
		"negative duration": {PatientID: 1, VisitType: "x", VisitDate: date, DurationMinutes: ptr(-5)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), v)
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_Update_FullReplace(t *testing.T) {
	svc, _ := newTestService()
	orig := mustCreate(t, svc, &Visit{
		PatientID:       1,
		VisitType:       "consultation",
		VisitDate:       at("2025-06-01T09:00:00Z"),
		DurationMinutes: ptr(45),
		Notes:           ptr("notes"),
		Diagnosis:       ptr("dx"),
		TreatmentPlan:   ptr("plan"),
		FollowUpDate:    at("2025-07-01T00:00:00Z"),
		Status:          StatusScheduled,
	})

	got, err := svc.Update(context.Background(), orig.ID, Replacement{VisitType: "therapy"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.VisitType != "therapy" {
		t.Errorf("expected visit_type therapy, got %s", got.VisitType)
	}
	if got.VisitDate != nil || got.DurationMinutes != nil || got.Notes != nil ||
		got.Diagnosis != nil || got.TreatmentPlan != nil || got.FollowUpDate != nil {
		t.Errorf("expected every other clinical field to be null, got %+v", got)
	}
	if got.Status != StatusScheduled {
		t.Errorf("expected status untouched when not supplied, got %s", got.Status)
	}
	if got.PatientID != 1 {
		t.Errorf("expected patient link to survive, got %d", got.PatientID)
	}
}

func TestService_Update_Status(t *testing.T) {
	svc, _ := newTestService()
	orig := mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-01T09:00:00Z")})

	got, err := svc.Update(context.Background(), orig.ID, Replacement{VisitType: "x", Status: ptr(StatusNoShow)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != StatusNoShow {
		t.Errorf("expected no_show, got %s", got.Status)
	}

	_, err = svc.Update(context.Background(), orig.ID, Replacement{VisitType: "x", Status: ptr("bogus")})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = svc.Update(context.Background(), orig.ID, Replacement{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error without visit_type, got %v", err)
	}
	_, err = svc.Update(context.Background(), 999, Replacement{VisitType: "x"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Reschedule_ForcesStatus(t *testing.T) {
	svc, _ := newTestService()
	orig := mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "therapy", VisitDate: at("2025-06-01T09:00:00Z"), DurationMinutes: ptr(30)})
	if orig.Status != StatusCompleted {
		t.Fatalf("expected starting status completed, got %s", orig.Status)
	}

	newDate := at("2025-06-02T09:00:00Z")
	got, err := svc.Reschedule(context.Background(), orig.ID, newDate, nil)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if got.Status != StatusRescheduled {
		t.Errorf("expected rescheduled, got %s", got.Status)
	}
	if got.VisitDate == nil || !got.VisitDate.Equal(*newDate) {
		t.Errorf("expected visit_date %v, got %v", newDate, got.VisitDate)
	}
	if got.DurationMinutes == nil || *got.DurationMinutes != 30 {
		t.Errorf("expected duration kept at 30, got %v", got.DurationMinutes)
	}

	got, err = svc.Reschedule(context.Background(), orig.ID, at("2025-06-03T09:00:00Z"), ptr(90))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if *got.DurationMinutes != 90 {
		t.Errorf("expected duration 90, got %d", *got.DurationMinutes)
	}
}

func TestService_Reschedule_Errors(t *testing.T) {
	svc, _ := newTestService()
	orig := mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-01T09:00:00Z")})

	_, err := svc.Reschedule(context.Background(), orig.ID, nil, nil)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error without new_date, got %v", err)
	}
	_, err = svc.Reschedule(context.Background(), 999, at("2025-06-02T09:00:00Z"), nil)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_FindAll_Conjunction(t *testing.T) {
	svc, _ := newTestService()
	doc := int64(4)
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "therapy", VisitDate: at("2025-03-01T10:00:00Z"), CreatedBy: &doc})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "evaluation", VisitDate: at("2025-03-02T10:00:00Z"), CreatedBy: &doc})
	mustCreate(t, svc, &Visit{PatientID: 2, VisitType: "therapy", VisitDate: at("2025-03-03T10:00:00Z")})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "therapy", VisitDate: at("2025-04-01T10:00:00Z"), CreatedBy: &doc})

	items, err := svc.FindAll(context.Background(), Filters{
		VisitType: "therapy",
		PatientID: ptr(int64(1)),
		CreatedBy: &doc,
		DateFrom:  at("2025-03-01T00:00:00Z"),
		DateTo:    at("2025-03-31T23:59:59Z"),
	}, 50, 0)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(items) != 1 || items[0].ID != 1 {
		t.Errorf("expected only visit 1, got %d items", len(items))
	}

	asc, _ := svc.FindAll(context.Background(), Filters{Ascending: true}, 50, 0)
	desc, _ := svc.FindAll(context.Background(), Filters{}, 50, 0)
	if asc[0].ID != 1 || desc[0].ID != 4 {
		t.Errorf("unexpected ordering: asc first %d, desc first %d", asc[0].ID, desc[0].ID)
	}

	_, err = svc.FindAll(context.Background(), Filters{DateFrom: at("2025-04-01T00:00:00Z"), DateTo: at("2025-03-01T00:00:00Z")}, 50, 0)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for inverted range, got %v", err)
	}
}

func TestService_FindUpcoming(t *testing.T) {
	svc, repo := newTestService()
	repo.now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-10T09:00:00Z")})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-20T09:00:00Z")})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-15T08:00:00Z")})

	items, err := svc.FindUpcoming(context.Background(), 0)
	if err != nil {
		t.Fatalf("FindUpcoming: %v", err)
	}
	if len(items) != 2 || items[0].ID != 3 || items[1].ID != 2 {
		t.Errorf("expected visits 3 then 2, got %d items", len(items))
	}
}

func TestService_FindByRecordDateType(t *testing.T) {
	svc, _ := newTestService()
	date := at("2025-06-01T09:00:00Z")
	created := mustCreate(t, svc, &Visit{ClinicalRecordID: ptr(int64(10)), VisitType: "therapy", VisitDate: date})

	got, err := svc.FindByRecordDateType(context.Background(), 10, *date, "therapy")
	if err != nil || got == nil || got.ID != created.ID {
		t.Fatalf("expected to find visit %d, got %v (%v)", created.ID, got, err)
	}
	got, err = svc.FindByRecordDateType(context.Background(), 10, *date, "evaluation")
	if err != nil || got != nil {
		t.Errorf("expected no match, got %v (%v)", got, err)
	}
	_, err = svc.FindByRecordDateType(context.Background(), 0, *date, "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_Calendar(t *testing.T) {
	svc, _ := newTestService()
	doc := int64(4)
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-03-02T10:00:00Z"), CreatedBy: &doc})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-03-01T10:00:00Z"), CreatedBy: &doc})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-03-01T11:00:00Z")})

	events, err := svc.Calendar(context.Background(), *at("2025-03-01T00:00:00Z"), *at("2025-03-31T00:00:00Z"), &doc)
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if len(events) != 2 || events[0].ID != 2 || events[1].ID != 1 {
		t.Errorf("expected doctor's visits oldest first, got %+v", events)
	}
}

func TestService_WindowLimit(t *testing.T) {
	svc, _ := newTestService()
	svc.windowLimit = 2
	for _, d := range []string{"2025-03-01T09:00:00Z", "2025-03-02T09:00:00Z", "2025-03-03T09:00:00Z"} {
		mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at(d)})
	}
	ctx := context.Background()

	_, err := svc.Calendar(ctx, *at("2025-03-01T00:00:00Z"), *at("2025-03-31T00:00:00Z"), nil)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for an oversized calendar window, got %v", err)
	}
	_, err = svc.Export(ctx, Filters{DateFrom: at("2025-03-01T00:00:00Z"), DateTo: at("2025-03-31T00:00:00Z")})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for an oversized export, got %v", err)
	}

	events, err := svc.Calendar(ctx, *at("2025-03-01T00:00:00Z"), *at("2025-03-02T23:59:59Z"), nil)
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected a window at the limit to return every visit, got %d", len(events))
	}
}

func TestService_DeleteAndCount(t *testing.T) {
	svc, _ := newTestService()
	a := mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-01T09:00:00Z")})
	mustCreate(t, svc, &Visit{PatientID: 1, VisitType: "x", VisitDate: at("2025-06-02T09:00:00Z")})

	if n, _ := svc.CountByPatientID(context.Background(), 1); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if ok, _ := svc.Delete(context.Background(), a.ID); !ok {
		t.Error("expected delete to succeed")
	}
	if ok, _ := svc.Delete(context.Background(), a.ID); ok {
		t.Error("expected second delete to report no row")
	}
}
