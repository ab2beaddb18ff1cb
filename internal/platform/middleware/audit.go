package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/auth"
)

// AuditEntry describes one access to clinical data.
type AuditEntry struct {
	UserID     int64
	RoleName   string
	Resource   string // clinical_record, visit
	Action     string // read, search, create, update, delete, export
	EntityID   string
	PatientID  string
	Method     string
	Route      string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. The access log line is always
// written; a recorder is an additional sink.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request that touches clinical records or visits,
// including rejected ones.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			route := c.Path()
			resource := auditResource(route)
			if resource == "" {
				return err
			}

			req := c.Request()
			entry := AuditEntry{
				Resource:   resource,
				Action:     auditAction(req.Method, route),
				EntityID:   c.Param("id"),
				PatientID:  c.Param("patientId"),
				Method:     req.Method,
				Route:      route,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if err != nil {
				entry.StatusCode = apperr.StatusOf(err)
			}
			if id, ok := auth.IdentityFromContext(req.Context()); ok {
				entry.UserID = id.UserID
				entry.RoleName = id.RoleName
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "clinical_audit").
				Str("request_id", entry.RequestID).
				Int64("user_id", entry.UserID).
				Str("role", entry.RoleName).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("entity_id", entry.EntityID).
				Str("patient_id", entry.PatientID).
				Str("route", entry.Route).
				Int("status", entry.StatusCode).
				Msg("clinical_access")

			return err
		}
	}
}

func auditResource(route string) string {
	switch {
	case strings.Contains(route, "/clinical/records"):
		return "clinical_record"
	case strings.Contains(route, "/visits"):
		return "visit"
	}
	return ""
}

func auditAction(method, route string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	switch {
	case strings.HasSuffix(route, "/export"):
		return "export"
	case strings.Contains(route, "/:id"):
		return "read"
	}
	return "search"
}
