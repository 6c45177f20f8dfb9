// Package artifacts persists per-dataset taxonomy state: the dataset table,
// sectioned concept definitions, policy definitions, and the one-hot feature
// table mapping dataset rows to concept membership.
//
// Layout under the store root, one directory per dataset:
//
//	<root>/<dataset>/<dataset>.csv (or .parquet)  source table
//	<root>/<dataset>/concepts.json                concept sections
//	<root>/<dataset>/policies.json                policy list
//	<root>/<dataset>/features.parquet             one-hot feature table
//
// All JSON is written with 2-space indentation so diffs stay reviewable.
// Reads and writes are read-modify-write over whole files, serialized by a
// store-level mutex; the store assumes a single analyst session per process.
package artifacts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
)

const (
	conceptsFile = "concepts.json"
	policiesFile = "policies.json"
	featuresFile = "features.parquet"

	// SuggestedSection is the concept file section that receives
	// machine-suggested concepts pending analyst review.
	SuggestedSection = "Suggested Concepts"
)

// ConceptEntry is a persisted concept. Count and Centroid are computed by
// external tooling and are stripped before update comparisons.
type ConceptEntry struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Examples    []string  `json:"examples"`
	Fixes       []string  `json:"fixes,omitempty"`
	Count       int       `json:"count,omitempty"`
	Centroid    []float64 `json:"centroid,omitempty"`
}

// ConceptSection groups persisted concepts under a named heading.
type ConceptSection struct {
	Name     string         `json:"name"`
	Concepts []ConceptEntry `json:"concepts"`
}

// PolicyUpdate reports the outcome of a policy write.
type PolicyUpdate struct {
	Index           int    `json:"index"`
	ID              string `json:"id"`
	ChangedExamples bool   `json:"changed_examples"`
}

// Store manages per-dataset artifact files.
type Store interface {
	// Datasets lists dataset names with an artifact directory.
	Datasets() ([]string, error)
	// LoadTable reads the dataset's source table. fields selects the
	// included columns; empty keeps every source column.
	LoadTable(dataset string, cols datasets.Columns, fields ...string) (*datasets.Dataset, error)
	// LoadConcepts reads the dataset's concept sections.
	LoadConcepts(dataset string) ([]ConceptSection, error)
	// SaveConcept appends a concept to the named section, creating the
	// section if absent, and writes its one-hot feature column.
	SaveConcept(dataset, section string, spec concepts.Spec, table *datasets.Dataset) error
	// UpdateConcept replaces the persisted concept matching spec's name and
	// reports whether the example list changed. The feature column is
	// regenerated only on change.
	UpdateConcept(dataset string, spec concepts.Spec, table *datasets.Dataset) (bool, error)
	// LoadPolicies reads the dataset's policy list.
	LoadPolicies(dataset string) ([]policies.Spec, error)
	// UpdatePolicy replaces the policy matching spec's id, or appends it
	// with a freshly minted id. When the policy's example list changed, the
	// new example ids propagate into each of its if-concepts.
	UpdatePolicy(dataset string, spec policies.Spec, table *datasets.Dataset) (PolicyUpdate, error)
	// Features reads the one-hot feature table as per-concept columns.
	Features(dataset string) (map[string][]int32, error)
}

type local struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a filesystem-backed Store rooted at root.
func New(root string, logger *slog.Logger) Store {
	return &local{
		root:   root,
		logger: logger.With("system", "artifacts"),
	}
}

func validateName(dataset string) error {
	if dataset == "" {
		return ErrInvalidName
	}
	if strings.ContainsAny(dataset, `/\`) || strings.Contains(dataset, "..") {
		return ErrInvalidName
	}
	return nil
}

func (l *local) dir(dataset string) (string, error) {
	if err := validateName(dataset); err != nil {
		return "", err
	}
	dir := filepath.Join(l.root, dataset)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, dataset)
	}
	return dir, nil
}

func (l *local) Datasets() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (l *local) LoadTable(dataset string, cols datasets.Columns, fields ...string) (*datasets.Dataset, error) {
	dir, err := l.dir(dataset)
	if err != nil {
		return nil, err
	}

	if path := filepath.Join(dir, dataset+".parquet"); exists(path) {
		return datasets.LoadParquet(path, cols, fields...)
	}
	if path := filepath.Join(dir, dataset+".csv"); exists(path) {
		return datasets.LoadCSV(path, cols, fields...)
	}
	return nil, fmt.Errorf("%w: %s has no source table", ErrNotFound, dataset)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readJSON loads path into v, returning ok=false when the file is absent.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
