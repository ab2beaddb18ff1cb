package visit

import "time"

const (
	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
	StatusNoShow      = "no_show"
)

// DefaultCreateStatus is assigned when a visit is created without a status.
// Visits are logged after the fact today, so they start out completed.
const DefaultCreateStatus = StatusCompleted

// DefaultDurationMinutes is assumed by projections when a visit has no
// duration of its own.
const DefaultDurationMinutes = 60

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusRescheduled: true,
	StatusNoShow: true,
}

// ValidStatus reports whether s is a known visit status. Transitions between
// statuses are not restricted.
func ValidStatus(s string) bool { return validStatuses[s] }

// Visit is a single encounter between a patient and a clinician. PatientID is
// always set; the clinical record link is optional.
type Visit struct {
	ID               int64      `json:"id"`
	PatientID        int64      `json:"patient_id"`
	ClinicalRecordID *int64     `json:"clinical_record_id"`
	VisitType        string     `json:"visit_type"`
	VisitDate        *time.Time `json:"visit_date"`
	DurationMinutes  *int       `json:"duration_minutes"`
	DoctorName       *string    `json:"doctor_name"`
	Notes            *string    `json:"notes"`
	Diagnosis        *string    `json:"diagnosis"`
	TreatmentPlan    *string    `json:"treatment_plan"`
	FollowUpDate     *time.Time `json:"follow_up_date"`
	Status           string     `json:"status"`
	CreatedBy        *int64     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	PatientFirstName *string `json:"patient_first_name,omitempty"`
	PatientLastName  *string `json:"patient_last_name,omitempty"`
	RecordNumber     *string `json:"record_number,omitempty"`
}

// Replacement carries the clinical fields written by Update. Every field is
// written, nil meaning NULL, except Status which is only written when set.
type Replacement struct {
	VisitType       string
	VisitDate       *time.Time
	DurationMinutes *int
	Notes           *string
	Diagnosis       *string
	TreatmentPlan   *string
	FollowUpDate    *time.Time
	Status          *string
}

// Filters narrow FindAll. Nil or empty fields are not applied. The date range
// applies to visit_date.
type Filters struct {
	VisitType string
	PatientID *int64
	CreatedBy *int64
	DateFrom  *time.Time
	DateTo    *time.Time
	Ascending bool
}
