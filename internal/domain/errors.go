package domain

import "errors"

// Sentinel errors for the client core. Callers branch with errors.Is;
// wrapped messages carry the human-readable context.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrSelfReference = errors.New("cannot reference yourself")
	ErrValidation    = errors.New("validation failed")
	ErrTransient     = errors.New("transient network error")
)
