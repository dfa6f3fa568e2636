package store

import "errors"

// Predefined errors for the store layer.
var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates that the user is not authorized to perform the requested action.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation, e.g. a second extraction
	// for the same document or a duplicate document/transaction match.
	ErrConflict = errors.New("conflict")
)
