package api

import "errors"

// Sentinel errors shared by the services. Callers translate these into
// their transport's error surface.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
