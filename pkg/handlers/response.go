package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
	"github.com/veridata-io/veridata-engine/pkg/query"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error to an HTTP status and writes it as JSON.
func WriteError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrUnknownConnection):
		return ErrorResponse(w, http.StatusNotFound, "unknown_connection", err.Error())
	case errors.Is(err, apperrors.ErrPoolExhausted):
		return ErrorResponse(w, http.StatusServiceUnavailable, "pool_exhausted", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedDriver), errors.Is(err, apperrors.ErrDriverUnavailable):
		return ErrorResponse(w, http.StatusBadRequest, "driver_error", err.Error())
	case errors.Is(err, apperrors.ErrConnectionValidation):
		return ErrorResponse(w, http.StatusBadGateway, "connection_failed", err.Error())
	default:
		var qerr *query.QueryError
		if errors.As(err, &qerr) {
			return ErrorResponse(w, http.StatusBadRequest, "query_failed", err.Error())
		}
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
