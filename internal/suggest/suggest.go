// Package suggest discovers candidate concepts from a dataset: it summarizes
// each example into bullet phrases, then synthesizes the summaries into named
// patterns that avoid overlapping the session's existing concepts.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

const (
	defaultSeeding       = "potentially harmful to users"
	defaultBullets       = 3
	defaultBulletWords   = "5-8"
	defaultConceptPhrase = "3-5 high-level patterns"
)

// Options controls a suggestion run.
type Options struct {
	// FilterIDs restricts the dataset to the given example ids before
	// sampling. Empty means the full dataset.
	FilterIDs []string
	// Limit caps the number of examples summarized. Zero means all.
	Limit int
	// Existing names concepts the suggestions must not overlap.
	Existing []string
	// Rand drives sampling. Nil means a fresh non-deterministic source.
	Rand *rand.Rand
}

type bulletResult struct {
	Bullets []string `json:"bullets"`
}

type pattern struct {
	Name       string   `json:"name"`
	Prompt     string   `json:"prompt"`
	ExampleIDs []string `json:"example_ids"`
}

type patternResult struct {
	Patterns []pattern `json:"patterns"`
}

// Concepts proposes new concept specs for rows of data. col names the text
// column summarized. Rows whose summarization fails are dropped before
// synthesis; each returned spec carries the pattern name as its concept name,
// the pattern's classification prompt as its description, and the cited
// example ids, with no fixes.
func Concepts(ctx context.Context, engine *llm.Engine, data *datasets.Dataset, col string, opts Options) ([]concepts.Spec, error) {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	idCol := data.Columns().ID

	rows := data.Frame(idCol, col)
	if len(opts.FilterIDs) > 0 {
		keep := make(map[string]struct{}, len(opts.FilterIDs))
		for _, id := range opts.FilterIDs {
			keep[id] = struct{}{}
		}
		var filtered []datasets.Row
		for _, row := range rows {
			id, _ := row[idCol].(string)
			if _, ok := keep[id]; ok {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if opts.Limit > 0 && len(rows) > opts.Limit {
		perm := opts.Rand.Perm(len(rows))
		sampled := make([]datasets.Row, opts.Limit)
		for i := range sampled {
			sampled[i] = rows[perm[i]]
		}
		rows = sampled
	}

	if len(rows) == 0 {
		return nil, nil
	}

	existing := ""
	if len(opts.Existing) > 0 {
		existing = "- " + strings.Join(opts.Existing, "\n- ")
	}

	args := make([]llm.Args, len(rows))
	for i, row := range rows {
		args[i] = llm.Args{
			"ex":                fmt.Sprint(row[col]),
			"seeding_phrase":    defaultSeeding,
			"n_bullets":         defaultBullets,
			"n_words":           defaultBulletWords,
			"existing_concepts": existing,
		}
	}

	responses := engine.Query(ctx, "summarize", summarizePrompt, args)

	type summary struct {
		id      string
		bullets []string
	}
	var summaries []summary
	for i, row := range rows {
		if !responses[i].Ok() {
			continue
		}
		parsed, err := llm.Parse[bulletResult](responses[i].Raw, "")
		if err != nil || len(parsed.Bullets) == 0 {
			continue
		}
		id, _ := row[idCol].(string)
		summaries = append(summaries, summary{id: id, bullets: parsed.Bullets})
	}

	if len(summaries) == 0 {
		return nil, fmt.Errorf("no examples could be summarized")
	}

	var b strings.Builder
	for _, s := range summaries {
		line, _ := json.Marshal(map[string]any{
			"example_id": s.id,
			"bullets":    s.bullets,
		})
		b.Write(line)
		b.WriteByte('\n')
	}

	synthArgs := []llm.Args{{
		"examples":          b.String(),
		"seeding_phrase":    "Focus on patterns that are " + defaultSeeding + ".",
		"n_concepts_phrase": defaultConceptPhrase,
		"existing_concepts": existing,
	}}

	synthResponses := engine.Query(ctx, "synthesize", synthesizePrompt, synthArgs)
	if !synthResponses[0].Ok() {
		if synthResponses[0].Err != nil {
			return nil, fmt.Errorf("pattern synthesis failed: %w", synthResponses[0].Err)
		}
		return nil, fmt.Errorf("pattern synthesis returned no response")
	}

	parsed, err := llm.Parse[patternResult](synthResponses[0].Raw, "")
	if err != nil {
		return nil, fmt.Errorf("pattern synthesis failed: %w", err)
	}

	specs := make([]concepts.Spec, 0, len(parsed.Patterns))
	for _, p := range parsed.Patterns {
		specs = append(specs, concepts.Spec{
			Name:        p.Name,
			Description: p.Prompt,
			Examples:    p.ExampleIDs,
			Fixes:       []string{},
		})
	}
	return specs, nil
}
