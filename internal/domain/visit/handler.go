package visit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/auth"
	"github.com/clinops/clinops/pkg/datetime"
	"github.com/clinops/clinops/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the visit endpoints under /clinical/visits. Every
// route, the calendar included, carries its own guard chain.
func (h *Handler) RegisterRoutes(api *echo.Group, gw *auth.Gateway) {
	g := api.Group("/clinical/visits")

	g.GET("/calendar", h.Calendar, gw.Authenticated()...)
	g.GET("/export", h.Export, gw.Permitted(auth.PermClinicalExport)...)
	g.GET("/lookup", h.Lookup, gw.Authenticated()...)
	g.GET("/upcoming", h.Upcoming, gw.Authenticated()...)
	g.GET("/patient/:patientId", h.ListByPatient, gw.Authenticated()...)
	g.GET("/patient/:patientId/count", h.CountByPatient, gw.Authenticated()...)
	g.GET("/record/:recordId", h.ListByRecord, gw.Authenticated()...)
	g.GET("", h.List, gw.Authenticated()...)
	g.GET("/:id", h.Get, gw.Authenticated()...)

	g.POST("", h.Create, gw.Permitted(auth.PermClinicalWrite)...)
	g.PUT("/:id", h.Update, gw.Permitted(auth.PermClinicalUpdate)...)
	g.PUT("/:id/reschedule", h.Reschedule, gw.Permitted(auth.PermClinicalUpdate)...)
	g.DELETE("/:id", h.Delete, gw.Permitted(auth.PermClinicalDelete)...)
}

type createRequest struct {
	PatientID        int64   `json:"patient_id"`
	ClinicalRecordID *int64  `json:"clinical_record_id"`
	VisitType        string  `json:"visit_type"`
	VisitDate        string  `json:"visit_date"`
	DurationMinutes  *int    `json:"duration_minutes"`
	DoctorName       *string `json:"doctor_name"`
	Notes            *string `json:"notes"`
	VisitNotes       *string `json:"visit_notes"`
	Diagnosis        *string `json:"diagnosis"`
	TreatmentPlan    *string `json:"treatment_plan"`
	FollowUpDate     string  `json:"follow_up_date"`
	Status           string  `json:"status"`
}

type updateRequest struct {
	VisitType       string  `json:"visit_type"`
	VisitDate       string  `json:"visit_date"`
	DurationMinutes *int    `json:"duration_minutes"`
	Notes           *string `json:"notes"`
	VisitNotes      *string `json:"visit_notes"`
	Diagnosis       *string `json:"diagnosis"`
	TreatmentPlan   *string `json:"treatment_plan"`
	FollowUpDate    string  `json:"follow_up_date"`
	Status          *string `json:"status"`
}

type rescheduleRequest struct {
	NewDate         string `json:"new_date"`
	DurationMinutes *int   `json:"duration_minutes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	visitDate, err := optionalDate(req.VisitDate, "visit_date")
	if err != nil {
		return err
	}
	followUp, err := optionalDate(req.FollowUpDate, "follow_up_date")
	if err != nil {
		return err
	}
	notes := req.Notes
	if notes == nil {
		notes = req.VisitNotes
	}

	v := &Visit{
		PatientID:        req.PatientID,
		ClinicalRecordID: req.ClinicalRecordID,
		VisitType:        req.VisitType,
		VisitDate:        visitDate,
		DurationMinutes:  req.DurationMinutes,
		DoctorName:       req.DoctorName,
		Notes:            notes,
		Diagnosis:        req.Diagnosis,
		TreatmentPlan:    req.TreatmentPlan,
		FollowUpDate:     followUp,
		Status:           req.Status,
	}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != 0 {
		v.CreatedBy = &uid
	}

	created, err := h.svc.Create(c.Request().Context(), v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pagination.Data(created))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if v == nil {
		return apperr.NotFound("visit %d not found", id)
	}
	return c.JSON(http.StatusOK, pagination.Data(v))
}

func (h *Handler) List(c echo.Context) error {
	f, err := parseFilters(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.FindAll(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg))
}

func (h *Handler) Upcoming(c echo.Context) error {
	pg := pagination.WithDefault(c, DefaultUpcomingLimit)
	items, err := h.svc.FindUpcoming(c.Request().Context(), pg.Limit)
	if err != nil {
		return err
	}
	pg.Offset = 0
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.FindByPatientID(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg))
}

func (h *Handler) CountByPatient(c echo.Context) error {
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	n, err := h.svc.CountByPatientID(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(map[string]int64{"patient_id": patientID, "count": n}))
}

func (h *Handler) ListByRecord(c echo.Context) error {
	recordID, err := pathID(c, "recordId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := h.svc.FindByRecordID(c.Request().Context(), recordID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), pg))
}

// Lookup answers whether a visit already exists for a record, date and type.
// data is null when there is none.
func (h *Handler) Lookup(c echo.Context) error {
	var missing []string
	rawRecord := c.QueryParam("clinical_record_id")
	rawDate := c.QueryParam("visit_date")
	visitType := c.QueryParam("visit_type")
	for _, q := range []struct{ name, val string }{
		{"clinical_record_id", rawRecord},
		{"visit_date", rawDate},
		{"visit_type", visitType},
	} {
		if strings.TrimSpace(q.val) == "" {
			missing = append(missing, q.name)
		}
	}
	if len(missing) > 0 {
		return apperr.MissingFields(missing...)
	}

	recordID, err := strconv.ParseInt(rawRecord, 10, 64)
	if err != nil || recordID <= 0 {
		return apperr.Validation("invalid clinical_record_id")
	}
	date, err := datetime.Parse(rawDate)
	if err != nil {
		return apperr.Validation("invalid visit_date")
	}
	v, err := h.svc.FindByRecordDateType(c.Request().Context(), recordID, date, visitType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(v))
}

// Calendar returns the events between start and end. Both bounds are required.
func (h *Handler) Calendar(c echo.Context) error {
	rawStart, rawEnd := c.QueryParam("start"), c.QueryParam("end")
	if strings.TrimSpace(rawStart) == "" || strings.TrimSpace(rawEnd) == "" {
		return apperr.Validation("start and end are required")
	}
	start, err := datetime.Parse(rawStart)
	if err != nil {
		return apperr.Validation("invalid start")
	}
	end, err := datetime.Parse(rawEnd)
	if err != nil {
		return apperr.Validation("invalid end")
	}
	end = datetime.EndOfDay(rawEnd, end)

	var doctorID *int64
	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperr.Validation("invalid doctor_id")
		}
		doctorID = &id
	}

	events, err := h.svc.Calendar(c.Request().Context(), start, end, doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// Export streams the filtered visits as an XLSX attachment. start and end are
// accepted as aliases of date_from and date_to.
func (h *Handler) Export(c echo.Context) error {
	f, err := parseFilters(c)
	if err != nil {
		return err
	}
	if f.DateFrom == nil {
		if f.DateFrom, err = datetime.ParseOptional(c.QueryParam("start")); err != nil {
			return apperr.Validation("invalid start")
		}
	}
	if f.DateTo == nil {
		raw := c.QueryParam("end")
		to, err := datetime.ParseOptional(raw)
		if err != nil {
			return apperr.Validation("invalid end")
		}
		if to != nil {
			end := datetime.EndOfDay(raw, *to)
			f.DateTo = &end
		}
	}

	data, err := h.svc.Export(c.Request().Context(), f)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("visits-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", filename))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	visitDate, err := optionalDate(req.VisitDate, "visit_date")
	if err != nil {
		return err
	}
	followUp, err := optionalDate(req.FollowUpDate, "follow_up_date")
	if err != nil {
		return err
	}
	notes := req.Notes
	if notes == nil {
		notes = req.VisitNotes
	}

	v, err := h.svc.Update(c.Request().Context(), id, Replacement{
		VisitType:       req.VisitType,
		VisitDate:       visitDate,
		DurationMinutes: req.DurationMinutes,
		Notes:           notes,
		Diagnosis:       req.Diagnosis,
		TreatmentPlan:   req.TreatmentPlan,
		FollowUpDate:    followUp,
		Status:          req.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(v))
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	newDate, err := optionalDate(req.NewDate, "new_date")
	if err != nil {
		return err
	}
	v, err := h.svc.Reschedule(c.Request().Context(), id, newDate, req.DurationMinutes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(v))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ok, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("visit %d not found", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "visit deleted"})
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func optionalDate(raw, field string) (*time.Time, error) {
	t, err := datetime.ParseOptional(raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s", field)
	}
	return t, nil
}

func parseFilters(c echo.Context) (Filters, error) {
	f := Filters{
		VisitType: strings.TrimSpace(c.QueryParam("visit_type")),
		Ascending: strings.EqualFold(c.QueryParam("order"), "asc"),
	}
	for _, q := range []struct {
		name string
		dst  **int64
	}{
		{"patient_id", &f.PatientID},
		{"created_by", &f.CreatedBy},
	} {
		raw := c.QueryParam(q.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, apperr.Validation("invalid %s", q.name)
		}
		*q.dst = &v
	}

	from, err := datetime.ParseOptional(c.QueryParam("date_from"))
	if err != nil {
		return f, apperr.Validation("invalid date_from")
	}
	f.DateFrom = from

	raw := c.QueryParam("date_to")
	to, err := datetime.ParseOptional(raw)
	if err != nil {
		return f, apperr.Validation("invalid date_to")
	}
	if to != nil {
		end := datetime.EndOfDay(raw, *to)
		f.DateTo = &end
	}
	return f, nil
}
