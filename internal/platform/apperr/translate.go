package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Postgres SQLSTATE codes mapped onto the taxonomy.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

// Envelope is the JSON body returned for every failed request.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Translate classifies any error. Already classified errors pass through,
// Postgres constraint violations become Conflict / Reference / Validation,
// echo HTTP errors keep their status and everything else is Internal.
func Translate(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return Wrap(KindConflict, err, conflictMessage(pgErr))
		case pgForeignKeyViolation:
			return Wrap(KindReference, err, referenceMessage(pgErr))
		case pgCheckViolation, pgNotNullViolation:
			return Wrap(KindValidation, err, fmt.Sprintf("constraint %s violated", pgErr.ConstraintName))
		}
		return Wrap(KindInternal, err, "database error")
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return fromHTTPError(he)
	}

	return Wrap(KindInternal, err, "internal server error")
}

func conflictMessage(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return fmt.Sprintf("duplicate value violates %s", pgErr.ConstraintName)
	}
	return "duplicate value"
}

func referenceMessage(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return fmt.Sprintf("referenced entity does not exist (%s)", pgErr.ConstraintName)
	}
	return "referenced entity does not exist"
}

func fromHTTPError(he *echo.HTTPError) *Error {
	msg := fmt.Sprintf("%v", he.Message)
	var kind Kind
	switch he.Code {
	case http.StatusUnauthorized:
		kind = KindUnauthenticated
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusBadRequest:
		kind = KindValidation
	default:
		if he.Code < http.StatusInternalServerError {
			kind = KindValidation
		} else {
			kind = KindInternal
		}
	}
	return &Error{Kind: kind, Message: msg, Err: he}
}

// StatusOf returns the HTTP status for err. Unclassified echo errors keep
// their own code (405, 413, ...).
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind.Status()
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return Translate(err).Kind.Status()
}

// BindError classifies a failed request body bind. An oversized body keeps its
// 413; anything else is a Validation error.
func BindError(err error) error {
	if StatusOf(err) == http.StatusRequestEntityTooLarge {
		return err
	}
	return Wrap(KindValidation, err, "invalid request body")
}

// HTTPErrorHandler is the echo error handler. Internal error detail is only
// written to the response when exposeDetail is set.
func HTTPErrorHandler(logger zerolog.Logger, exposeDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		appErr := Translate(err)
		status := StatusOf(err)
		msg := appErr.Message
		if appErr.Kind == KindInternal {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
			if exposeDetail {
				msg = err.Error()
			} else {
				msg = "internal server error"
			}
		}

		body := Envelope{Success: false, Error: msg}
		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}
