package projector

import (
	"errors"
	"net/http"

	"github.com/apple/ml-policy-projector/internal/artifacts"
)

// Domain errors for taxonomy operations.
var (
	ErrConceptNotFound  = errors.New("concept not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrCaseNotFound     = errors.New("case not found")
	ErrExampleNotFound  = errors.New("example not found")
	ErrDuplicateConcept = errors.New("concept id already exists")
	ErrDuplicatePolicy  = errors.New("policy id already exists")
	ErrNoActiveSession  = errors.New("no active dataset session")
	ErrNoLabelColumn    = errors.New("dataset has no label column")
)

// MapHTTPStatus maps taxonomy domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrConceptNotFound),
		errors.Is(err, ErrPolicyNotFound),
		errors.Is(err, ErrCaseNotFound),
		errors.Is(err, ErrExampleNotFound),
		errors.Is(err, artifacts.ErrNotFound),
		errors.Is(err, artifacts.ErrConceptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateConcept), errors.Is(err, ErrDuplicatePolicy):
		return http.StatusConflict
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrNoLabelColumn):
		return http.StatusBadRequest
	case errors.Is(err, artifacts.ErrInvalidName):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
