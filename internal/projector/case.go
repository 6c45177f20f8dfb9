package projector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

// CaseSpec is the declarative form of a case: one curated example/fix pair
// layered on an existing concept.
type CaseSpec struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Examples        []datasets.Serialized `json:"examples"`
	Fixes           []datasets.Serialized `json:"fixes"`
	ExistingConcept string                `json:"existing_concept"`
}

// Case couples a curated example/fix pair with the concept and policy it
// seeds: the concept captures the new failure mode, the policy requires both
// the existing concept and the new one.
type Case struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	ExistingConcept string            `json:"existing_concept"`
	Concept         *concepts.Concept `json:"-"`
	Policy          *policies.Policy  `json:"-"`

	examples *datasets.Dataset
	fixes    *datasets.Dataset
}

// Fix pairs an example text with its model-suggested fixed version.
type Fix struct {
	ID      string `json:"id"`
	Example string `json:"example"`
	Fix     string `json:"fix"`
}

var enactFixPrompt = template.Must(template.New("enact-fix").Parse(`
I have the following ORIGINAL example and a FIXED example that removes the harm of {{.concept_name}}: {{.concept_description}}.
ORIGINAL: "{{.orig}}"
FIXED: "{{.fixed}}"

I have the following new examples that I need to fix. Please return the fixed versions of these examples.
{{.examples}}

Respond ONLY with a JSON in this format:
{
    "fixes": [
        {
            "example": <text example>,
            "fix": <text example WITHOUT the harm>,
        },
        ...
    ]
}
`))

type fixResult struct {
	Fixes []struct {
		Example string `json:"example"`
		Fix     string `json:"fix"`
	} `json:"fixes"`
}

// AddCase builds a Case from spec: it registers a new concept from the
// case's example/fix pair, then a policy whose if-list pairs the existing
// concept with the new one and whose then-list names the new concept.
func (p *Projector) AddCase(spec CaseSpec) (*Case, error) {
	examples := datasets.FromSerialized(spec.Examples)
	fixes := datasets.FromSerialized(spec.Fixes)

	conceptSpec := concepts.Spec{
		Name:        spec.Name,
		Description: spec.Description,
		Examples:    examples.IDs(),
		Fixes:       fixes.IDs(),
	}
	c, err := p.AddConcept(conceptSpec, false)
	if err != nil {
		return nil, err
	}

	policySpec := policies.Spec{
		Name:        spec.Name,
		Description: spec.Description,
		If:          []string{spec.ExistingConcept, c.Name},
		Then:        []string{c.Name},
		Examples:    examples.IDs(),
		Fixes:       fixes.IDs(),
	}
	pol, _, err := p.AddPolicy(policySpec)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cs := &Case{
		ID:              strconv.Itoa(len(p.cases)),
		Name:            spec.Name,
		Description:     spec.Description,
		ExistingConcept: spec.ExistingConcept,
		Concept:         c,
		Policy:          pol,
		examples:        examples,
		fixes:           fixes,
	}
	p.cases[cs.ID] = cs

	p.logger.Info("case added", "case", cs.ID, "concept", c.ID, "policy", pol.ID)
	return cs, nil
}

// Case looks up a registered case by id.
func (p *Projector) Case(id string) (*Case, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if cs, ok := p.cases[id]; ok {
		return cs, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
}

// FindSimilar evaluates the case's policy over the dataset to surface rows
// exhibiting the same layered failure. When the dataset has a label column,
// candidates are first narrowed to rows labeled with the existing concept.
func (p *Projector) FindSimilar(ctx context.Context, cs *Case, limit int) ([]policies.MatchRow, error) {
	table := p.table
	if cs.ExistingConcept != "" && p.labelCol != "" {
		var rows []datasets.Row
		for _, row := range table.Frame() {
			if row[p.labelCol] == cs.ExistingConcept {
				rows = append(rows, row)
			}
		}
		table = datasets.New(rows, table.Columns(), table.Fields()...)
	}

	return cs.Policy.Match(ctx, p.engine, table, table.Columns().OutText, policies.MatchOptions{
		Limit: limit,
		Sort:  true,
		Rand:  p.rng,
	})
}

// FixSimilar asks the model to apply the case's demonstrated fix to the
// given example ids, anchored by the case's original/fixed pair.
func (p *Projector) FixSimilar(ctx context.Context, cs *Case, exampleIDs []string) ([]Fix, error) {
	cols := p.table.Columns()

	texts := make([]string, 0, len(exampleIDs))
	for _, id := range exampleIDs {
		text, ok := p.table.Value(id, cols.OutText)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrExampleNotFound, id)
		}
		texts = append(texts, fmt.Sprint(text))
	}

	var orig, fixed string
	if vals := cs.examples.Get(datasets.ColInText); len(vals) > 0 {
		orig = fmt.Sprint(vals[0])
	}
	if vals := cs.fixes.Get(datasets.ColOutText); len(vals) > 0 {
		fixed = fmt.Sprint(vals[0])
	}

	var b strings.Builder
	for _, text := range texts {
		fmt.Fprintf(&b, "- %s\n", text)
	}

	args := []llm.Args{{
		"concept_name":        cs.Concept.Name,
		"concept_description": cs.Concept.Description,
		"orig":                orig,
		"fixed":               fixed,
		"examples":            b.String(),
	}}

	responses := p.engine.Query(ctx, "enact-fix", enactFixPrompt, args)
	if !responses[0].Ok() {
		if responses[0].Err != nil {
			return nil, fmt.Errorf("fix generation failed: %w", responses[0].Err)
		}
		return nil, fmt.Errorf("fix generation returned no response")
	}

	parsed, err := llm.Parse[fixResult](responses[0].Raw, "")
	if err != nil {
		return nil, fmt.Errorf("fix generation failed: %w", err)
	}

	fixedRows := make([]Fix, 0, len(parsed.Fixes))
	for i, f := range parsed.Fixes {
		fix := Fix{Example: f.Example, Fix: f.Fix}
		if i < len(exampleIDs) {
			fix.ID = exampleIDs[i]
		}
		fixedRows = append(fixedRows, fix)
	}
	return fixedRows, nil
}
