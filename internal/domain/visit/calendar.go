package visit

import (
	"strings"
	"time"
)

const (
	placeholderFirstName = "Nome"
	placeholderLastName  = "Cognome"
)

// DefaultStatusColors is the calendar palette. Statuses missing from a palette
// are drawn with the scheduled colour.
var DefaultStatusColors = map[string]string{
	StatusScheduled:   "#3788d8",
	StatusCompleted:   "#28a745",
	StatusCancelled:   "#dc3545",
	StatusRescheduled: "#fd7e14",
}

// CalendarEvent is the generic event shape consumed by calendar widgets.
type CalendarEvent struct {
	ID            int64                  `json:"id"`
	Title         string                 `json:"title"`
	Start         *time.Time             `json:"start"`
	End           *time.Time             `json:"end"`
	Color         string                 `json:"color"`
	ExtendedProps map[string]interface{} `json:"extendedProps"`
}

// ProjectToCalendar maps visits to calendar events. It has no side effects and
// the output depends only on its arguments. A nil palette selects
// DefaultStatusColors.
func ProjectToCalendar(visits []*Visit, colors map[string]string) []CalendarEvent {
	if colors == nil {
		colors = DefaultStatusColors
	}
	events := make([]CalendarEvent, 0, len(visits))
	for _, v := range visits {
		ev := CalendarEvent{
			ID:    v.ID,
			Title: eventTitle(v),
			Color: statusColor(colors, v.Status),
			ExtendedProps: map[string]interface{}{
				"patient_id":         v.PatientID,
				"clinical_record_id": v.ClinicalRecordID,
				"visit_type":         v.VisitType,
				"status":             v.Status,
				"doctor_name":        v.DoctorName,
				"record_number":      v.RecordNumber,
			},
		}
		if v.VisitDate != nil {
			start := *v.VisitDate
			minutes := DefaultDurationMinutes
			if v.DurationMinutes != nil {
				minutes = *v.DurationMinutes
			}
			end := start.Add(time.Duration(minutes) * time.Minute)
			ev.Start = &start
			ev.End = &end
		}
		events = append(events, ev)
	}
	return events
}

func eventTitle(v *Visit) string {
	first, last := placeholderFirstName, placeholderLastName
	if v.PatientFirstName != nil && strings.TrimSpace(*v.PatientFirstName) != "" {
		first = *v.PatientFirstName
	}
	if v.PatientLastName != nil && strings.TrimSpace(*v.PatientLastName) != "" {
		last = *v.PatientLastName
	}
	return first + " " + last
}

func statusColor(colors map[string]string, status string) string {
	if c, ok := colors[status]; ok {
		return c
	}
	if c, ok := colors[StatusScheduled]; ok {
		return c
	}
	return DefaultStatusColors[StatusScheduled]
}
