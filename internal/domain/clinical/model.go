package clinical

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusClosed   = "closed"
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusArchived: true, StatusClosed: true,
}

// ValidStatus reports whether s is a known record status.
func ValidStatus(s string) bool { return validStatuses[s] }

// Record is a patient's clinical case folder. The patient and author display
// fields are filled on read paths only.
type Record struct {
	ID            int64     `json:"id"`
	PatientID     int64     `json:"patient_id"`
	RecordNumber  string    `json:"record_number"`
	RecordType    string    `json:"record_type"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Diagnosis     *string   `json:"diagnosis"`
	TreatmentPlan *string   `json:"treatment_plan"`
	Medications   *string   `json:"medications"`
	Notes         *string   `json:"notes"`
	CreatedBy     *int64    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	PatientFirstName  *string `json:"patient_first_name,omitempty"`
	PatientLastName   *string `json:"patient_last_name,omitempty"`
	PatientIdentifier *string `json:"patient_identifier,omitempty"`
	AuthorUsername    *string `json:"author_username,omitempty"`
}

// Optional distinguishes an absent JSON field from an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set Optional holding null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// RecordUpdate is a partial update: only fields with Set are written.
// patient_id and created_by are not updatable.
type RecordUpdate struct {
	RecordNumber  Optional[string]
	RecordType    Optional[string]
	Title         Optional[string]
	Status        Optional[string]
	Diagnosis     Optional[string]
	TreatmentPlan Optional[string]
	Medications   Optional[string]
	Notes         Optional[string]
}

// Filters narrow FindAll. Nil fields are not applied.
type Filters struct {
	PatientID *int64
	CreatedBy *int64
	DateFrom  *time.Time
	DateTo    *time.Time
}

type Statistics struct {
	Total            int64 `json:"total"`
	CreatedToday     int64 `json:"created_today"`
	CreatedLast7Days int64 `json:"created_last_7_days"`
	DistinctPatients int64 `json:"distinct_patients"`
}
