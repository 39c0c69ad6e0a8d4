package apperrors

import "errors"

var (
	ErrUnsupportedDriver    = errors.New("unsupported driver")
	ErrDriverUnavailable    = errors.New("driver unavailable")
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrPoolExhausted        = errors.New("connection pool exhausted")
	ErrPoolClosed           = errors.New("connection pool closed")
	ErrConnectionValidation = errors.New("connection validation failed")
)
