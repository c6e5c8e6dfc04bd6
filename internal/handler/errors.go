package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"grit-ledger-api/internal/service"
	"grit-ledger-api/pkg/apierror"
	"grit-ledger-api/pkg/response"
)

const maxBodyBytes = 1 << 20

// statusFor maps a ledger failure kind onto an HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindState, service.KindConflict:
		return http.StatusConflict
	case service.KindResource:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError renders err in the API error envelope. Ledger errors keep their
// code; anything else is logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ledgerErr *service.Error
	if errors.As(err, &ledgerErr) {
		status := statusFor(ledgerErr.Kind)
		if status == http.StatusInternalServerError {
			logger.Error("ledger invariant", "path", r.URL.Path, "error", err)
		}
		response.Error(w, apierror.New(status, ledgerErr.Code, ledgerErr.Message))
		return
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		response.Error(w, apiErr)
		return
	}
	logger.Error("request failed", "path", r.URL.Path, "error", err)
	response.Error(w, apierror.InternalError(""))
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apierror.ValidationError("invalid request body", apierror.FieldError{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			})
		}
		return apierror.BadRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}
