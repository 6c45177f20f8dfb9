package concepts

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

const defaultFewShot = 3

// Concept is a registered classifier built from a Spec. Labeled concepts
// resolve scores from an existing label column instead of querying the model.
type Concept struct {
	Spec
	Labeled  bool
	LabelCol string

	// Policies holds the ids of policies referencing this concept.
	Policies []string
}

// New validates spec and wraps it in a Concept.
func New(spec Spec, labeled bool, labelCol string) (*Concept, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Concept{
		Spec:     spec,
		Labeled:  labeled,
		LabelCol: labelCol,
	}, nil
}

// Options controls a classification run.
type Options struct {
	// Limit caps the number of candidate rows scored. Zero means all rows.
	Limit int
	// Sort orders results with positive scores first, unscored rows last.
	Sort bool
	// FewShot caps the number of positive exemplars included in the prompt.
	// Zero means the default of 3.
	FewShot int
	// Rand drives candidate and exemplar sampling. Nil means a fresh
	// non-deterministic source.
	Rand *rand.Rand
}

// Scored is one classification result row.
type Scored struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Score     *int   `json:"score"`
	Rationale string `json:"rationale,omitempty"`
	Source    string `json:"source"`
}

type patternResult struct {
	Rationale string `json:"rationale"`
	Answer    string `json:"answer"`
}

// Classify scores rows of data against the concept. col names the text
// column to evaluate. Rows already listed in the concept's examples are
// excluded before sampling; rows whose model call or parse fails carry a nil
// score. Every result row is marked with source "auto".
func (c *Concept) Classify(ctx context.Context, engine *llm.Engine, data *datasets.Dataset, col string, opts Options) ([]Scored, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var results []Scored
	if c.Labeled {
		results = c.classifyLabeled(data, col)
	} else {
		var err error
		results, err = c.classifyModel(ctx, engine, data, col, opts)
		if err != nil {
			return nil, err
		}
	}

	if opts.Sort {
		sortByScore(results)
	}

	return results, nil
}

// classifyLabeled resolves scores from the label column: 1 when the label
// equals the concept name, 0 otherwise. No model calls are made.
func (c *Concept) classifyLabeled(data *datasets.Dataset, col string) []Scored {
	idCol := data.Columns().ID
	rows := data.Frame(idCol, col, c.LabelCol)

	results := make([]Scored, len(rows))
	for i, row := range rows {
		score := 0
		if row[c.LabelCol] == c.Name {
			score = 1
		}
		id, _ := row[idCol].(string)
		results[i] = Scored{
			ID:     id,
			Text:   asText(row[col]),
			Score:  &score,
			Source: "auto",
		}
	}
	return results
}

func (c *Concept) classifyModel(ctx context.Context, engine *llm.Engine, data *datasets.Dataset, col string, opts Options) ([]Scored, error) {
	idCol := data.Columns().ID

	known := make(map[string]struct{}, len(c.Examples))
	for _, id := range c.Examples {
		known[id] = struct{}{}
	}

	var candidates []datasets.Row
	for _, row := range data.Frame(idCol, col) {
		id, _ := row[idCol].(string)
		if _, skip := known[id]; skip {
			continue
		}
		candidates = append(candidates, row)
	}

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		perm := opts.Rand.Perm(len(candidates))
		sampled := make([]datasets.Row, opts.Limit)
		for i := range sampled {
			sampled[i] = candidates[perm[i]]
		}
		candidates = sampled
	}

	tmpl := zeroShotPrompt
	criteria := fmt.Sprintf("%s: %s", c.Name, c.Description)

	var exemplars string
	if len(c.Examples) > 0 {
		tmpl = fewShotPrompt
		exemplars = c.sampleExemplars(data, col, opts)
	}

	args := make([]llm.Args, len(candidates))
	for i, row := range candidates {
		a := llm.Args{
			"ex":       asText(row[col]),
			"criteria": criteria,
		}
		if exemplars != "" {
			a["concept_examples"] = exemplars
		}
		args[i] = a
	}

	responses := engine.Query(ctx, "classify", tmpl, args)

	results := make([]Scored, len(candidates))
	for i, row := range candidates {
		id, _ := row[idCol].(string)
		result := Scored{
			ID:     id,
			Text:   asText(row[col]),
			Source: "auto",
		}
		if responses[i].Ok() {
			if parsed, err := llm.Parse[patternResult](responses[i].Raw, "pattern_result"); err == nil {
				result.Score = bucketScore(parsed.Answer)
				result.Rationale = parsed.Rationale
			}
		}
		results[i] = result
	}

	return results, nil
}

// sampleExemplars resolves up to FewShot random positive example texts from
// the full dataset, one per line.
func (c *Concept) sampleExemplars(data *datasets.Dataset, col string, opts Options) string {
	limit := opts.FewShot
	if limit <= 0 {
		limit = defaultFewShot
	}

	ids := c.Examples
	if len(ids) > limit {
		perm := opts.Rand.Perm(len(ids))
		sampled := make([]string, limit)
		for i := range sampled {
			sampled[i] = ids[perm[i]]
		}
		ids = sampled
	}

	var b strings.Builder
	for _, id := range ids {
		if text, ok := data.Value(id, col); ok {
			fmt.Fprintf(&b, "- %s\n", asText(text))
		}
	}
	return b.String()
}

// bucketScore maps a multiple-choice answer to a binary score: A matches,
// B does not, anything else is unscored. Longer answers count by their
// first letter.
func bucketScore(answer string) *int {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil
	}
	switch answer[:1] {
	case "A":
		s := 1
		return &s
	case "B":
		s := 0
		return &s
	}
	return nil
}

// sortByScore orders results by descending score with unscored rows last,
// preserving input order among equals.
func sortByScore(results []Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Score, results[j].Score
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

func asText(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
