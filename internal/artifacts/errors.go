package artifacts

import "errors"

var (
	// ErrNotFound indicates the named dataset has no artifact directory.
	ErrNotFound = errors.New("dataset not found")
	// ErrConceptNotFound indicates no persisted concept matched the name.
	ErrConceptNotFound = errors.New("concept not found in artifact store")
	// ErrInvalidName indicates a dataset name unsafe for path construction.
	ErrInvalidName = errors.New("invalid dataset name")
)
