package model

import "errors"

var (
	// ErrAlertNotFound is returned for an unknown alert id on get,
	// acknowledge, resolve and note operations.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidRule is returned when a rule fails structural validation
	// during a registry reload. The reload is all-or-nothing.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrIngestRejected is returned for an event that fails the engine's
	// structural precondition, e.g. a zero timestamp.
	ErrIngestRejected = errors.New("event rejected")
)
