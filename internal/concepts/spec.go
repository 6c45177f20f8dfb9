// Package concepts implements LLM-backed concept classifiers: named textual
// criteria with positive example ids that score dataset rows as matching or
// not matching the concept.
package concepts

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired        = errors.New("concept name is required")
	ErrDescriptionRequired = errors.New("concept description is required")
)

// Spec is the declarative form of a concept. Examples and Fixes hold dataset
// example ids, not text.
type Spec struct {
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	Fixes       []string `json:"fixes,omitempty"`
}

// Validate checks required fields and normalizes the spec: a missing id
// defaults to the concept name, and duplicate example ids are rejected.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.Description == "" {
		return ErrDescriptionRequired
	}
	if s.ID == "" {
		s.ID = s.Name
	}

	seen := make(map[string]struct{}, len(s.Examples))
	for _, id := range s.Examples {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("concept %s: duplicate example id %s", s.ID, id)
		}
		seen[id] = struct{}{}
	}

	return nil
}
