package artifacts

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
)

func (l *local) LoadPolicies(dataset string) ([]policies.Spec, error) {
	dir, err := l.dir(dataset)
	if err != nil {
		return nil, err
	}

	var specs []policies.Spec
	if _, err := readJSON(filepath.Join(dir, policiesFile), &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func (l *local) UpdatePolicy(dataset string, spec policies.Spec, table *datasets.Dataset) (PolicyUpdate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir, err := l.dir(dataset)
	if err != nil {
		return PolicyUpdate{}, err
	}

	path := filepath.Join(dir, policiesFile)
	var specs []policies.Spec
	if _, err := readJSON(path, &specs); err != nil {
		return PolicyUpdate{}, err
	}

	var update PolicyUpdate
	var prevExamples []string

	idx := slices.IndexFunc(specs, func(s policies.Spec) bool {
		return s.ID == spec.ID && spec.ID != ""
	})
	if idx >= 0 {
		prevExamples = specs[idx].Examples
		spec.Index = specs[idx].Index
		specs[idx] = spec
		update = PolicyUpdate{
			Index:           spec.Index,
			ID:              spec.ID,
			ChangedExamples: !slices.Equal(prevExamples, spec.Examples),
		}
	} else {
		// Brand-new policy: mint the next sequential id and append.
		spec.ID = fmt.Sprintf("p%d", len(specs)+1)
		spec.Index = len(specs)
		specs = append(specs, spec)
		update = PolicyUpdate{
			Index:           spec.Index,
			ID:              spec.ID,
			ChangedExamples: len(spec.Examples) > 0,
		}
	}

	if err := writeJSON(path, specs); err != nil {
		return PolicyUpdate{}, err
	}

	if update.ChangedExamples {
		if err := l.propagateExamples(dataset, spec, table); err != nil {
			return PolicyUpdate{}, err
		}
	}

	l.logger.Info("policy updated",
		"dataset", dataset,
		"policy", update.ID,
		"index", update.Index,
		"changed_examples", update.ChangedExamples)
	return update, nil
}

// propagateExamples pushes the policy's example ids into each of its
// if-concepts, adding every id the concept does not already hold. Concept
// edits never flow back into policies.
func (l *local) propagateExamples(dataset string, spec policies.Spec, table *datasets.Dataset) error {
	if len(spec.Examples) == 0 {
		return nil
	}

	sections, err := l.loadConceptsLocked(dataset)
	if err != nil {
		return err
	}

	for _, name := range spec.If {
		entry, ok := findConcept(sections, name)
		if !ok {
			l.logger.Warn("policy references unknown concept, skipping propagation",
				"dataset", dataset,
				"policy", spec.ID,
				"concept", name)
			continue
		}

		examples := slices.Clone(entry.Examples)
		for _, id := range spec.Examples {
			if !slices.Contains(examples, id) {
				examples = append(examples, id)
			}
		}
		if slices.Equal(examples, entry.Examples) {
			continue
		}

		updated := concepts.Spec{
			Name:        entry.Name,
			ID:          entry.ID,
			Description: entry.Description,
			Examples:    examples,
			Fixes:       entry.Fixes,
		}
		if _, err := l.updateConcept(dataset, updated, table); err != nil && !errors.Is(err, ErrConceptNotFound) {
			return err
		}
	}

	return nil
}

func (l *local) loadConceptsLocked(dataset string) ([]ConceptSection, error) {
	dir, err := l.dir(dataset)
	if err != nil {
		return nil, err
	}
	var sections []ConceptSection
	if _, err := readJSON(filepath.Join(dir, conceptsFile), &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

func findConcept(sections []ConceptSection, name string) (ConceptEntry, bool) {
	for _, section := range sections {
		for _, entry := range section.Concepts {
			if entry.Name == name {
				return entry, true
			}
		}
	}
	return ConceptEntry{}, false
}
