// Package policies implements if-concept-then-action rules evaluated as a
// strict conjunction over concept classifiers.
package policies

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

var (
	ErrNameRequired = errors.New("policy name is required")
	ErrNoConditions = errors.New("policy requires at least one if-concept")
)

// Spec is the declarative form of a policy. If and Then reference concepts
// by name; Examples holds dataset example ids.
type Spec struct {
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	If          []string `json:"if"`
	Then        []string `json:"then,omitempty"`
	Examples    []string `json:"examples"`
	Fixes       []string `json:"fixes,omitempty"`
	Index       int      `json:"index,omitempty"`
}

// Validate checks required fields and defaults a missing id to the name.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if len(s.If) == 0 {
		return ErrNoConditions
	}
	if s.ID == "" {
		s.ID = s.Name
	}

	seen := make(map[string]struct{}, len(s.Examples))
	for _, id := range s.Examples {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("policy %s: duplicate example id %s", s.ID, id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// Policy is a registered rule. IfConditions holds a snapshot of each
// referenced concept's spec taken at registration time, so later concept
// edits do not retroactively change the policy's definition.
type Policy struct {
	Spec
	IfConditions []concepts.Spec
	IfConcepts   []*concepts.Concept
}

// New validates spec and binds it to its resolved if-concepts, in the order
// spec.If lists them.
func New(spec Spec, ifConcepts []*concepts.Concept) (*Policy, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(ifConcepts) != len(spec.If) {
		return nil, fmt.Errorf("policy %s: %d if-concepts resolved for %d conditions", spec.ID, len(ifConcepts), len(spec.If))
	}

	conditions := make([]concepts.Spec, len(ifConcepts))
	for i, c := range ifConcepts {
		conditions[i] = c.Spec
	}

	return &Policy{
		Spec:         spec,
		IfConditions: conditions,
		IfConcepts:   ifConcepts,
	}, nil
}

// MatchOptions controls a policy match run.
type MatchOptions struct {
	// Limit caps the number of sampled rows. Zero means all rows.
	Limit int
	// Sort orders results with matching rows first.
	Sort bool
	// Rand drives row sampling and the underlying concept classification.
	Rand *rand.Rand
}

// MatchRow is one policy evaluation result. Score is the conjunction of the
// per-concept scores; a concept that failed to score counts as 0.
type MatchRow struct {
	ID            string            `json:"id"`
	Text          string            `json:"text"`
	Score         int               `json:"score"`
	ConceptScores map[string]int    `json:"concept_scores"`
	Rationales    map[string]string `json:"rationales,omitempty"`
	Source        string            `json:"source"`
}

// Match evaluates the policy's if-conditions over rows of data. Rows already
// listed as policy examples are excluded, the remainder is sampled down to
// Limit, and every constituent concept classifies the same sample. A row
// matches only when every concept scores it 1.
func (p *Policy) Match(ctx context.Context, engine *llm.Engine, data *datasets.Dataset, col string, opts MatchOptions) ([]MatchRow, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	idCol := data.Columns().ID

	known := make(map[string]struct{}, len(p.Examples))
	for _, id := range p.Examples {
		known[id] = struct{}{}
	}

	var rows []datasets.Row
	for _, row := range data.Frame() {
		id, _ := row[idCol].(string)
		if _, skip := known[id]; skip {
			continue
		}
		rows = append(rows, row)
	}

	if opts.Limit > 0 && len(rows) > opts.Limit {
		perm := opts.Rand.Perm(len(rows))
		sampled := make([]datasets.Row, opts.Limit)
		for i := range sampled {
			sampled[i] = rows[perm[i]]
		}
		rows = sampled
	}

	sample := datasets.New(rows, data.Columns(), data.Fields()...)

	results := make([]MatchRow, len(rows))
	for i, row := range rows {
		id, _ := row[idCol].(string)
		results[i] = MatchRow{
			ID:            id,
			Text:          fmt.Sprint(row[col]),
			Score:         1,
			ConceptScores: make(map[string]int, len(p.IfConcepts)),
			Rationales:    make(map[string]string),
			Source:        "auto",
		}
	}

	// Each concept classifies the same sample; a missing or null concept
	// score fails closed to 0, zeroing the row's conjunction permanently.
	for _, concept := range p.IfConcepts {
		scored, err := concept.Classify(ctx, engine, sample, col, concepts.Options{Rand: opts.Rand})
		if err != nil {
			return nil, fmt.Errorf("policy %s: concept %s: %w", p.ID, concept.Name, err)
		}

		byID := make(map[string]concepts.Scored, len(scored))
		for _, s := range scored {
			byID[s.ID] = s
		}

		for i := range results {
			score := 0
			if s, ok := byID[results[i].ID]; ok && s.Score != nil {
				score = *s.Score
				if s.Rationale != "" {
					results[i].Rationales[concept.Name] = s.Rationale
				}
			}
			results[i].ConceptScores[concept.Name] = score
			results[i].Score &= score
		}
	}

	if opts.Sort {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}

	return results, nil
}
