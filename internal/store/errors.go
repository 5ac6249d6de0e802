package store

import "errors"

// Sentinel errors returned by store implementations. The pipeline maps these
// onto its failure taxonomy; everything else is treated as fatal for the
// current request.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict indicates a concurrent writer won an insert race for the
	// same session identity. Callers retry once as an update.
	ErrConflict = errors.New("store: conflict")

	// ErrVerification indicates the same-transaction read-back of a written
	// row failed. The write is rolled back and the capture aborts.
	ErrVerification = errors.New("store: row verification failed")

	// ErrBadEmbedding indicates a vector with the wrong dimension was passed.
	ErrBadEmbedding = errors.New("store: embedding dimension mismatch")
)
