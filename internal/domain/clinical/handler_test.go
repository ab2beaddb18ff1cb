package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/auth"
)

var testTokens = map[string]auth.Identity{
	"writer": {UserID: 7, Username: "writer", RoleName: "therapist", Permissions: auth.PermissionList{"clinical.write", "clinical.update"}},
	"reader": {UserID: 8, Username: "reader", RoleName: "therapist", Permissions: auth.PermissionList{}},
	"admin":  {UserID: 1, Username: "admin", RoleName: auth.RoleAdmin, Permissions: auth.PermissionAll{}},
}

func newTestServer() (*echo.Echo, *mockRepo) {
	logger := zerolog.New(io.Discard)
	gw := auth.NewGateway(auth.VerifierFunc(func(_ context.Context, token string) (auth.Identity, error) {
		id, ok := testTokens[token]
		if !ok {
			return auth.Identity{}, errors.New("unknown token")
		}
		return id, nil
	}), logger)

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger, false)
	repo := newMockRepo()
	NewHandler(NewService(repo)).RegisterRoutes(e.Group("/api"), gw)
	return e, repo
}

func doRequest(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(decode(t, rec).Data, &m); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return m
}

func TestHandler_CreateAndGet(t *testing.T) {
	e, _ := newTestServer()

	rec := doRequest(e, http.MethodPost, "/api/clinical/records", "writer",
		`{"patient_id":1,"record_type":"consultation","title":"Intake"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeRecord(t, rec)
	number, _ := created["record_number"].(string)
	if !strings.HasPrefix(number, "CR-") {
		t.Errorf("expected generated record number, got %q", number)
	}
	if created["status"] != StatusActive {
		t.Errorf("expected status active, got %v", created["status"])
	}
	if created["created_by"] != float64(7) {
		t.Errorf("expected created_by 7, got %v", created["created_by"])
	}

	id := int64(created["id"].(float64))
	rec = doRequest(e, http.MethodGet, fmt.Sprintf("/api/clinical/records/%d", id), "reader", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decodeRecord(t, rec)
	if v, ok := got["diagnosis"]; !ok || v != nil {
		t.Errorf("expected diagnosis to be present and null, got %v (present=%v)", v, ok)
	}

	rec = doRequest(e, http.MethodGet, fmt.Sprintf("/api/clinical/records/%d", id+100), "reader", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if env := decode(t, rec); env.Success || env.Error == "" {
		t.Errorf("expected failure envelope, got %+v", env)
	}
}

func TestHandler_Create_MissingFields(t *testing.T) {
	e, _ := newTestServer()
	rec := doRequest(e, http.MethodPost, "/api/clinical/records", "writer", `{"patient_id":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := decode(t, rec)
	if !strings.Contains(env.Error, "record_type") || !strings.Contains(env.Error, "title") {
		t.Errorf("expected missing field names in %q", env.Error)
	}
	if strings.Contains(env.Error, "patient_id") {
		t.Errorf("patient_id was supplied, got %q", env.Error)
	}
}

func TestHandler_Create_TreatmentAlias(t *testing.T) {
	e, _ := newTestServer()
	rec := doRequest(e, http.MethodPost, "/api/clinical/records", "writer",
		`{"patient_id":1,"record_type":"x","title":"y","treatment":"rest"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if got := decodeRecord(t, rec)["treatment_plan"]; got != "rest" {
		t.Errorf("expected treatment_plan rest, got %v", got)
	}
}

func TestHandler_Authorization(t *testing.T) {
	e, _ := newTestServer()
	body := `{"patient_id":1,"record_type":"x","title":"y"}`

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/clinical/records", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/clinical/records", "forged", "", http.StatusUnauthorized},
		{"reader lists", http.MethodGet, "/api/clinical/records", "reader", "", http.StatusOK},
		{"reader cannot write", http.MethodPost, "/api/clinical/records", "reader", body, http.StatusForbidden},
		{"writer cannot delete", http.MethodDelete, "/api/clinical/records/1", "writer", "", http.StatusForbidden},
		{"statistics needs admin", http.MethodGet, "/api/clinical/records/statistics", "writer", "", http.StatusForbidden},
		{"admin statistics", http.MethodGet, "/api/clinical/records/statistics", "admin", "", http.StatusOK},
		{"admin delete missing", http.MethodDelete, "/api/clinical/records/99", "admin", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Update_Partial(t *testing.T) {
	e, _ := newTestServer()
	rec := doRequest(e, http.MethodPost, "/api/clinical/records", "writer",
		`{"patient_id":1,"record_type":"x","title":"y","notes":"keep me"}`)
	id := int64(decodeRecord(t, rec)["id"].(float64))

	rec = doRequest(e, http.MethodPut, fmt.Sprintf("/api/clinical/records/%d", id), "writer", `{"diagnosis":"X"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeRecord(t, rec)
	if got["diagnosis"] != "X" || got["notes"] != "keep me" || got["title"] != "y" {
		t.Errorf("unexpected record after partial update: %v", got)
	}

	rec = doRequest(e, http.MethodPut, fmt.Sprintf("/api/clinical/records/%d", id), "writer", `{"notes":null}`)
	if got := decodeRecord(t, rec); got["notes"] != nil {
		t.Errorf("expected notes cleared, got %v", got["notes"])
	}

	rec = doRequest(e, http.MethodPut, fmt.Sprintf("/api/clinical/records/%d", id), "writer", `{"status":"bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid status, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPut, "/api/clinical/records/999", "writer", `{"diagnosis":"X"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListAndCountByPatient(t *testing.T) {
	e, _ := newTestServer()
	for _, p := range []int{5, 5, 6} {
		doRequest(e, http.MethodPost, "/api/clinical/records", "writer",
			fmt.Sprintf(`{"patient_id":%d,"record_type":"x","title":"y"}`, p))
	}

	rec := doRequest(e, http.MethodGet, "/api/clinical/records/patient/5", "reader", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Data       []Record `json:"data"`
		Pagination struct {
			Count int `json:"count"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 2 || list.Pagination.Count != 2 {
		t.Errorf("expected 2 records, got %d (count %d)", len(list.Data), list.Pagination.Count)
	}

	rec = doRequest(e, http.MethodGet, "/api/clinical/records/patient/5/count", "reader", "")
	var count struct {
		Data struct {
			PatientID int64 `json:"patient_id"`
			Count     int64 `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &count); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if count.Data.PatientID != 5 || count.Data.Count != 2 {
		t.Errorf("unexpected count payload %+v", count.Data)
	}

	rec = doRequest(e, http.MethodGet, "/api/clinical/records?patient_id=6", "reader", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 1 {
		t.Errorf("expected 1 record for patient 6, got %d", len(list.Data))
	}
}

func TestHandler_InvalidParams(t *testing.T) {
	e, _ := newTestServer()
	for _, path := range []string{
		"/api/clinical/records/abc",
		"/api/clinical/records?patient_id=x",
		"/api/clinical/records?date_from=yesterday",
		"/api/clinical/records?date_from=2025-02-01&date_to=2025-01-01",
	} {
		rec := doRequest(e, http.MethodGet, path, "reader", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandler_Delete(t *testing.T) {
	e, _ := newTestServer()
	rec := doRequest(e, http.MethodPost, "/api/clinical/records", "writer", `{"patient_id":1,"record_type":"x","title":"y"}`)
	id := int64(decodeRecord(t, rec)["id"].(float64))

	rec = doRequest(e, http.MethodDelete, fmt.Sprintf("/api/clinical/records/%d", id), "admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodGet, fmt.Sprintf("/api/clinical/records/%d", id), "reader", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}
