package apperrors

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrStore                = errors.New("store failure")
	ErrFetch                = errors.New("fetch failure")
	ErrCancelled            = errors.New("cancelled")
	ErrBackendNotConfigured = errors.New("backend url not set")
)
