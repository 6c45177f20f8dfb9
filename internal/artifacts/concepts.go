package artifacts

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
)

func (l *local) LoadConcepts(dataset string) ([]ConceptSection, error) {
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

func (l *local) SaveConcept(dataset, section string, spec concepts.Spec, table *datasets.Dataset) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir, err := l.dir(dataset)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, conceptsFile)
	var sections []ConceptSection
	if _, err := readJSON(path, &sections); err != nil {
		return err
	}

	entry := toEntry(spec)
	idx := slices.IndexFunc(sections, func(s ConceptSection) bool {
		return s.Name == section
	})
	if idx < 0 {
		sections = append(sections, ConceptSection{Name: section, Concepts: []ConceptEntry{entry}})
	} else {
		sections[idx].Concepts = append(sections[idx].Concepts, entry)
	}

	if err := writeJSON(path, sections); err != nil {
		return err
	}

	if err := l.setFeature(dir, spec.Name, spec.Examples, table); err != nil {
		return err
	}

	l.logger.Info("concept saved",
		"dataset", dataset,
		"section", section,
		"concept", spec.Name,
		"examples", len(spec.Examples))
	return nil
}

func (l *local) UpdateConcept(dataset string, spec concepts.Spec, table *datasets.Dataset) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateConcept(dataset, spec, table)
}

// updateConcept carries the unlocked implementation so policy propagation
// can reuse it under the store mutex.
func (l *local) updateConcept(dataset string, spec concepts.Spec, table *datasets.Dataset) (bool, error) {
	dir, err := l.dir(dataset)
	if err != nil {
		return false, err
	}

	path := filepath.Join(dir, conceptsFile)
	var sections []ConceptSection
	if _, err := readJSON(path, &sections); err != nil {
		return false, err
	}

	for si := range sections {
		for ci := range sections[si].Concepts {
			if sections[si].Concepts[ci].Name != spec.Name {
				continue
			}

			// Computed fields never participate in the change check.
			prev := sections[si].Concepts[ci]
			prev.Count = 0
			prev.Centroid = nil

			changed := !slices.Equal(prev.Examples, spec.Examples)
			sections[si].Concepts[ci] = toEntry(spec)

			if err := writeJSON(path, sections); err != nil {
				return false, err
			}

			if changed {
				if err := l.setFeature(dir, spec.Name, spec.Examples, table); err != nil {
					return false, err
				}
			}

			l.logger.Info("concept updated",
				"dataset", dataset,
				"concept", spec.Name,
				"changed_examples", changed)
			return changed, nil
		}
	}

	return false, fmt.Errorf("%w: %s", ErrConceptNotFound, spec.Name)
}

func toEntry(spec concepts.Spec) ConceptEntry {
	return ConceptEntry{
		Name:        spec.Name,
		ID:          spec.ID,
		Description: spec.Description,
		Examples:    spec.Examples,
		Fixes:       spec.Fixes,
	}
}
