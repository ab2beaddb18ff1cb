package clinical

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/auth"
	"github.com/clinops/clinops/pkg/datetime"
	"github.com/clinops/clinops/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the record endpoints under /clinical/records. Every
// route carries its own guard chain.
func (h *Handler) RegisterRoutes(api *echo.Group, gw *auth.Gateway) {
	g := api.Group("/clinical/records")

	g.GET("", h.List, gw.Authenticated()...)
	g.GET("/statistics", h.Statistics, gw.Admin()...)
	g.GET("/patient/:patientId", h.ListByPatient, gw.Authenticated()...)
	g.GET("/patient/:patientId/count", h.CountByPatient, gw.Authenticated()...)
	g.GET("/:id", h.Get, gw.Authenticated()...)

	g.POST("", h.Create, gw.Permitted(auth.PermClinicalWrite)...)
	g.PUT("/:id", h.Update, gw.Permitted(auth.PermClinicalUpdate)...)
	g.DELETE("/:id", h.Delete, gw.Permitted(auth.PermClinicalDelete)...)
}

type createRequest struct {
	PatientID     int64   `json:"patient_id"`
	RecordNumber  string  `json:"record_number"`
	RecordType    string  `json:"record_type"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	Diagnosis     *string `json:"diagnosis"`
	TreatmentPlan *string `json:"treatment_plan"`
	Treatment     *string `json:"treatment"`
	Medications   *string `json:"medications"`
	Notes         *string `json:"notes"`
}

type updateRequest struct {
	RecordNumber  Optional[string] `json:"record_number"`
	RecordType    Optional[string] `json:"record_type"`
	Title         Optional[string] `json:"title"`
	Status        Optional[string] `json:"status"`
	Diagnosis     Optional[string] `json:"diagnosis"`
	TreatmentPlan Optional[string] `json:"treatment_plan"`
	Treatment     Optional[string] `json:"treatment"`
	Medications   Optional[string] `json:"medications"`
	Notes         Optional[string] `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BindError(err)
	}
	plan := req.TreatmentPlan
	if plan == nil {
		plan = req.Treatment
	}
	rec := &Record{
		PatientID:     req.PatientID,
		RecordNumber:  req.RecordNumber,
		RecordType:    req.RecordType,
		Title:         req.Title,
		Status:        req.Status,
		Diagnosis:     req.Diagnosis,
		TreatmentPlan: plan,
		Medications:   req.Medications,
		Notes:         req.Notes,
	}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != 0 {
		rec.CreatedBy = &uid
	}

	created, err := h.svc.Create(c.Request().Context(), rec)
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
	rec, err := h.svc.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if rec == nil {
		return apperr.NotFound("clinical record %d not found", id)
	}
	return c.JSON(http.StatusOK, pagination.Data(rec))
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

func (h *Handler) Statistics(c echo.Context) error {
	stats, err := h.svc.Statistics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(stats))
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
	u := RecordUpdate{
		RecordNumber:  req.RecordNumber,
		RecordType:    req.RecordType,
		Title:         req.Title,
		Status:        req.Status,
		Diagnosis:     req.Diagnosis,
		TreatmentPlan: req.TreatmentPlan,
		Medications:   req.Medications,
		Notes:         req.Notes,
	}
	if !u.TreatmentPlan.Set {
		u.TreatmentPlan = req.Treatment
	}

	rec, err := h.svc.Update(c.Request().Context(), id, u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Data(rec))
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
		return apperr.NotFound("clinical record %d not found", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "clinical record deleted"})
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func parseFilters(c echo.Context) (Filters, error) {
	var f Filters
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
