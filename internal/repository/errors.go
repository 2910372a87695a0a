package repository

import "errors"

// Error taxonomy shared by the store, registry and interpreter. Adapters wrap
// these with context; callers match them with errors.Is.
var (
	// ErrValidation is returned when a required book source field is missing.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when an id or url is not present where it must be.
	ErrNotFound = errors.New("book source not found")
	// ErrInvalidField is returned for a column outside the writable schema or a
	// value of the wrong type.
	ErrInvalidField = errors.New("invalid field")
	// ErrStorageInit is returned when the backing medium cannot be opened.
	ErrStorageInit = errors.New("storage init failed")
	// ErrNetwork covers transport failures, timeouts and non-2xx responses.
	ErrNetwork = errors.New("network error")
	// ErrParse is returned when a response cannot be turned into a document.
	ErrParse = errors.New("parse error")
)
