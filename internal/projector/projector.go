// Package projector implements the taxonomy session: one active dataset with
// its registry of concepts, policies, and cases, plus the classification and
// suggestion operations that evolve the taxonomy.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"

	"github.com/apple/ml-policy-projector/internal/artifacts"
	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/internal/suggest"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

// ConceptSection is the concept file section that receives analyst-created
// concepts, as opposed to machine suggestions.
const ConceptSection = "Concepts"

// Projector is an explicit session over one dataset. All registry state
// lives here rather than in process-wide globals; activating a different
// dataset builds a fresh Projector and discards this one.
type Projector struct {
	dataset  string
	table    *datasets.Dataset
	labelCol string

	engine *llm.Engine
	store  artifacts.Store
	logger *slog.Logger
	rng    *rand.Rand

	mu       sync.RWMutex
	concepts map[string]*concepts.Concept
	policies map[string]*policies.Policy
	cases    map[string]*Case
}

// New creates a Projector session over table. labelCol optionally names a
// column with pre-existing concept labels; rng drives all sampling and may
// be nil for a non-deterministic source.
func New(
	dataset string,
	table *datasets.Dataset,
	labelCol string,
	engine *llm.Engine,
	store artifacts.Store,
	logger *slog.Logger,
	rng *rand.Rand,
) *Projector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Projector{
		dataset:  dataset,
		table:    table,
		labelCol: labelCol,
		engine:   engine,
		store:    store,
		logger:   logger.With("system", "projector", "dataset", dataset),
		rng:      rng,
		concepts: make(map[string]*concepts.Concept),
		policies: make(map[string]*policies.Policy),
		cases:    make(map[string]*Case),
	}
}

// Dataset returns the active dataset name.
func (p *Projector) Dataset() string {
	return p.dataset
}

// Table returns the active dataset table.
func (p *Projector) Table() *datasets.Dataset {
	return p.table
}

// Concepts returns the registered concepts ordered by id.
func (p *Projector) Concepts() []*concepts.Concept {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*concepts.Concept, 0, len(p.concepts))
	for _, c := range p.concepts {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *concepts.Concept) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Policies returns the registered policies ordered by index.
func (p *Projector) Policies() []*policies.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*policies.Policy, 0, len(p.policies))
	for _, pol := range p.policies {
		out = append(out, pol)
	}
	slices.SortFunc(out, func(a, b *policies.Policy) int {
		return a.Index - b.Index
	})
	return out
}

// Concept looks up a registered concept by id, falling back to name. Absence
// is reported as ErrConceptNotFound, never a nil dereference.
func (p *Projector) Concept(nameOrID string) (*concepts.Concept, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conceptLocked(nameOrID)
}

func (p *Projector) conceptLocked(nameOrID string) (*concepts.Concept, error) {
	if c, ok := p.concepts[nameOrID]; ok {
		return c, nil
	}
	for _, c := range p.concepts {
		if c.Name == nameOrID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConceptNotFound, nameOrID)
}

// Policy looks up a registered policy by id.
func (p *Projector) Policy(id string) (*policies.Policy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if pol, ok := p.policies[id]; ok {
		return pol, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
}

// register adds a concept to the in-memory registry without persisting.
func (p *Projector) register(c *concepts.Concept) error {
	if _, exists := p.concepts[c.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConcept, c.ID)
	}
	p.concepts[c.ID] = c
	return nil
}

// RegisterConcept validates and registers a concept without persisting it,
// used when rehydrating a session from the artifact store and when deriving
// labeled concepts from the dataset itself.
func (p *Projector) RegisterConcept(spec concepts.Spec, labeled bool) (*concepts.Concept, error) {
	labelCol := ""
	if labeled {
		if p.labelCol == "" {
			return nil, ErrNoLabelColumn
		}
		labelCol = p.labelCol
	}

	c, err := concepts.New(spec, labeled, labelCol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddConcept validates, registers, and persists a new concept. A colliding
// id fails without mutating the registry.
func (p *Projector) AddConcept(spec concepts.Spec, labeled bool) (*concepts.Concept, error) {
	labelCol := ""
	if labeled {
		if p.labelCol == "" {
			return nil, ErrNoLabelColumn
		}
		labelCol = p.labelCol
	}

	c, err := concepts.New(spec, labeled, labelCol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.register(c); err != nil {
		return nil, err
	}

	if err := p.store.SaveConcept(p.dataset, ConceptSection, c.Spec, p.table); err != nil {
		delete(p.concepts, c.ID)
		return nil, err
	}

	p.logger.Info("concept added", "concept", c.ID, "examples", len(c.Examples))
	return c, nil
}

// UpdateConcept replaces a registered concept's definition and persists it,
// reporting whether the example list changed. Concept edits never propagate
// into policies.
func (p *Projector) UpdateConcept(spec concepts.Spec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.conceptLocked(spec.Name)
	if err != nil {
		return false, err
	}

	changed, err := p.store.UpdateConcept(p.dataset, spec, p.table)
	if err != nil {
		return false, err
	}

	c.Spec = spec
	p.logger.Info("concept updated", "concept", c.ID, "changed_examples", changed)
	return changed, nil
}

// AddPolicy resolves the spec's if-concept names against the registry,
// snapshots them, persists the policy (minting an id when absent), and
// registers it. Each referenced concept gains a back-reference to the policy.
func (p *Projector) AddPolicy(spec policies.Spec) (*policies.Policy, artifacts.PolicyUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resolved := make([]*concepts.Concept, len(spec.If))
	for i, name := range spec.If {
		c, err := p.conceptLocked(name)
		if err != nil {
			return nil, artifacts.PolicyUpdate{}, err
		}
		resolved[i] = c
	}

	if spec.ID != "" {
		if _, exists := p.policies[spec.ID]; exists {
			return nil, artifacts.PolicyUpdate{}, fmt.Errorf("%w: %s", ErrDuplicatePolicy, spec.ID)
		}
	}

	update, err := p.store.UpdatePolicy(p.dataset, spec, p.table)
	if err != nil {
		return nil, artifacts.PolicyUpdate{}, err
	}
	spec.ID = update.ID
	spec.Index = update.Index

	pol, err := policies.New(spec, resolved)
	if err != nil {
		return nil, artifacts.PolicyUpdate{}, err
	}

	p.policies[pol.ID] = pol
	for _, c := range resolved {
		if !slices.Contains(c.Policies, pol.ID) {
			c.Policies = append(c.Policies, pol.ID)
		}
	}
	if update.ChangedExamples {
		p.propagateLocked(pol)
	}

	p.logger.Info("policy added", "policy", pol.ID, "index", pol.Index, "if", spec.If)
	return pol, update, nil
}

// UpdatePolicy replaces a registered policy's definition and persists it.
// When the policy's example list changed, the new example ids propagate into
// each if-concept's examples, in the registry and on disk.
func (p *Projector) UpdatePolicy(spec policies.Spec) (artifacts.PolicyUpdate, error) {
	if err := spec.Validate(); err != nil {
		return artifacts.PolicyUpdate{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pol, ok := p.policies[spec.ID]
	if !ok {
		return artifacts.PolicyUpdate{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, spec.ID)
	}

	update, err := p.store.UpdatePolicy(p.dataset, spec, p.table)
	if err != nil {
		return artifacts.PolicyUpdate{}, err
	}

	spec.Index = update.Index
	pol.Spec = spec

	if update.ChangedExamples {
		p.propagateLocked(pol)
	}

	p.logger.Info("policy updated", "policy", pol.ID, "changed_examples", update.ChangedExamples)
	return update, nil
}

// propagateLocked mirrors the store's policy-to-concept propagation in the
// registry: every policy example a referenced concept is missing is appended
// to that concept's examples. Callers hold p.mu.
func (p *Projector) propagateLocked(pol *policies.Policy) {
	for _, c := range pol.IfConcepts {
		for _, id := range pol.Examples {
			if !slices.Contains(c.Examples, id) {
				c.Examples = append(c.Examples, id)
			}
		}
	}
}

// AutoPopulate creates a labeled concept per unique value of the dataset's
// label column, up to limit, each seeded with the ids of its labeled rows.
func (p *Projector) AutoPopulate(limit int) (int, error) {
	if p.labelCol == "" {
		return 0, ErrNoLabelColumn
	}

	idCol := p.table.Columns().ID

	var order []string
	examples := make(map[string][]string)
	for _, row := range p.table.Frame(idCol, p.labelCol) {
		label, _ := row[p.labelCol].(string)
		if label == "" {
			continue
		}
		if _, seen := examples[label]; !seen {
			order = append(order, label)
		}
		id, _ := row[idCol].(string)
		examples[label] = append(examples[label], id)
	}

	created := 0
	for _, label := range order {
		if limit > 0 && created == limit {
			break
		}
		if _, err := p.Concept(label); err == nil {
			continue
		}

		p.mu.RLock()
		n := len(p.concepts)
		p.mu.RUnlock()

		spec := concepts.Spec{
			Name:        label,
			ID:          strconv.Itoa(n + 1),
			Description: fmt.Sprintf("These examples were manually labeled with the label %s", label),
			Examples:    examples[label],
		}
		if _, err := p.RegisterConcept(spec, true); err != nil {
			if errors.Is(err, ErrDuplicateConcept) {
				continue
			}
			return created, err
		}
		created++
	}

	p.logger.Info("auto-populated concepts", "count", created)
	return created, nil
}

// Similar classifies the dataset against a concept and returns the ids of
// matching rows.
func (p *Projector) Similar(ctx context.Context, nameOrID string, limit int) ([]string, error) {
	c, err := p.Concept(nameOrID)
	if err != nil {
		return nil, err
	}

	scored, err := c.Classify(ctx, p.engine, p.table, p.table.Columns().OutText, concepts.Options{
		Limit: limit,
		Sort:  true,
		Rand:  p.rng,
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, s := range scored {
		if s.Score != nil && *s.Score == 1 {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// MatchPolicy evaluates a policy's if-conditions over the dataset.
func (p *Projector) MatchPolicy(ctx context.Context, id string, limit int) ([]policies.MatchRow, error) {
	pol, err := p.Policy(id)
	if err != nil {
		return nil, err
	}

	return pol.Match(ctx, p.engine, p.table, p.table.Columns().OutText, policies.MatchOptions{
		Limit: limit,
		Sort:  true,
		Rand:  p.rng,
	})
}

// SuggestConcepts asks the model for concepts not yet in the taxonomy,
// registers each suggestion, and persists it to the suggested section of the
// concept file. Suggestions colliding with an existing id are skipped.
func (p *Projector) SuggestConcepts(ctx context.Context, filterIDs []string, limit int) ([]concepts.Spec, error) {
	current := p.Concepts()
	existing := make([]string, 0, len(current))
	for _, c := range current {
		existing = append(existing, c.Name)
	}

	specs, err := suggest.Concepts(ctx, p.engine, p.table, p.table.Columns().OutText, suggest.Options{
		FilterIDs: filterIDs,
		Limit:     limit,
		Existing:  existing,
		Rand:      p.rng,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var registered []concepts.Spec
	for _, spec := range specs {
		c, err := concepts.New(spec, false, "")
		if err != nil {
			p.logger.Warn("skipping invalid suggestion", "concept", spec.Name, "error", err)
			continue
		}
		if err := p.register(c); err != nil {
			p.logger.Warn("skipping colliding suggestion", "concept", c.ID, "error", err)
			continue
		}
		if err := p.store.SaveConcept(p.dataset, artifacts.SuggestedSection, c.Spec, p.table); err != nil {
			delete(p.concepts, c.ID)
			return registered, err
		}
		registered = append(registered, c.Spec)
	}

	p.logger.Info("concepts suggested", "count", len(registered))
	return registered, nil
}
