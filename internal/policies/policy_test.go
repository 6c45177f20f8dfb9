package policies_test

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

func testEngine(respond func(prompt string) (string, bool)) *llm.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return llm.NewEngine(&llm.Offline{Respond: respond}, llm.EngineConfig{Debug: true}, logger)
}

func answer(letter string) string {
	return `{"pattern_result": {"rationale": "r", "answer": "` + letter + `"}}`
}

func mustConcept(t *testing.T, name string) *concepts.Concept {
	t.Helper()
	c, err := concepts.New(concepts.Spec{Name: name, Description: name + " is present"}, false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func testData() *datasets.Dataset {
	cols := datasets.Canonical()
	return datasets.New([]datasets.Row{
		{"id": "1", "in_text": "q1", "out_text": "rude and unsafe text", "source": "seed"},
		{"id": "2", "in_text": "q2", "out_text": "rude but harmless text", "source": "seed"},
		{"id": "3", "in_text": "q3", "out_text": "friendly text", "source": "seed"},
	}, cols)
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    policies.Spec
		wantErr bool
	}{
		{"valid", policies.Spec{Name: "no-rude-unsafe", If: []string{"rude"}}, false},
		{"missing name", policies.Spec{If: []string{"rude"}}, true},
		{"no conditions", policies.Spec{Name: "p"}, true},
		{"duplicate examples", policies.Spec{Name: "p", If: []string{"rude"}, Examples: []string{"1", "1"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSnapshotsConditions(t *testing.T) {
	rude := mustConcept(t, "rude")
	rude.Examples = []string{"1"}

	p, err := policies.New(policies.Spec{Name: "p", If: []string{"rude"}}, []*concepts.Concept{rude})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rude.Examples = append(rude.Examples, "9")
	if len(p.IfConditions[0].Examples) != 1 {
		t.Errorf("snapshot changed after concept edit: %v", p.IfConditions[0].Examples)
	}
}

func TestNewRejectsArityMismatch(t *testing.T) {
	if _, err := policies.New(policies.Spec{Name: "p", If: []string{"a", "b"}}, []*concepts.Concept{mustConcept(t, "a")}); err == nil {
		t.Error("expected error for unresolved if-concepts")
	}
}

func TestMatchConjunction(t *testing.T) {
	// "rude" matches rows 1 and 2; "unsafe" matches row 1 only.
	engine := testEngine(func(prompt string) (string, bool) {
		switch {
		case strings.Contains(prompt, "unsafe is present") && strings.Contains(prompt, "rude and unsafe"):
			return answer("A"), true
		case strings.Contains(prompt, "unsafe is present"):
			return answer("B"), true
		case strings.Contains(prompt, "friendly"):
			return answer("B"), true
		default:
			return answer("A"), true
		}
	})

	p, err := policies.New(
		policies.Spec{Name: "no-rude-unsafe", If: []string{"rude", "unsafe"}},
		[]*concepts.Concept{mustConcept(t, "rude"), mustConcept(t, "unsafe")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := p.Match(context.Background(), engine, testData(), "out_text", policies.MatchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	byID := make(map[string]policies.MatchRow)
	for _, r := range rows {
		byID[r.ID] = r
	}

	if byID["1"].Score != 1 {
		t.Errorf("row 1: expected policy match, got %d", byID["1"].Score)
	}
	if byID["2"].Score != 0 {
		t.Errorf("row 2: expected no match (unsafe=0), got %d", byID["2"].Score)
	}
	if byID["3"].Score != 0 {
		t.Errorf("row 3: expected no match, got %d", byID["3"].Score)
	}
	if byID["2"].ConceptScores["rude"] != 1 || byID["2"].ConceptScores["unsafe"] != 0 {
		t.Errorf("row 2: unexpected concept scores %v", byID["2"].ConceptScores)
	}
}

func TestMatchNullScoreFailsClosed(t *testing.T) {
	engine := testEngine(func(prompt string) (string, bool) {
		if strings.Contains(prompt, "unsafe is present") {
			return "unparseable", true
		}
		return answer("A"), true
	})

	p, err := policies.New(
		policies.Spec{Name: "p", If: []string{"rude", "unsafe"}},
		[]*concepts.Concept{mustConcept(t, "rude"), mustConcept(t, "unsafe")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := p.Match(context.Background(), engine, testData(), "out_text", policies.MatchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, r := range rows {
		if r.Score != 0 {
			t.Errorf("row %s: expected fail-closed 0 with unscored concept, got %d", r.ID, r.Score)
		}
		if r.ConceptScores["unsafe"] != 0 {
			t.Errorf("row %s: expected unsafe score 0, got %d", r.ID, r.ConceptScores["unsafe"])
		}
	}
}

func TestMatchExcludesPolicyExamples(t *testing.T) {
	engine := testEngine(func(string) (string, bool) {
		return answer("A"), true
	})

	p, err := policies.New(
		policies.Spec{Name: "p", If: []string{"rude"}, Examples: []string{"1"}},
		[]*concepts.Concept{mustConcept(t, "rude")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := p.Match(context.Background(), engine, testData(), "out_text", policies.MatchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after exclusion, got %d", len(rows))
	}
	for _, r := range rows {
		if r.ID == "1" {
			t.Error("known policy example was re-evaluated")
		}
	}
}

func TestMatchLimitAndSort(t *testing.T) {
	engine := testEngine(func(prompt string) (string, bool) {
		if strings.Contains(prompt, "friendly") {
			return answer("B"), true
		}
		return answer("A"), true
	})

	p, err := policies.New(
		policies.Spec{Name: "p", If: []string{"rude"}},
		[]*concepts.Concept{mustConcept(t, "rude")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := p.Match(context.Background(), engine, testData(), "out_text", policies.MatchOptions{
		Limit: 2,
		Sort:  true,
		Rand:  rand.New(rand.NewPCG(3, 5)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 sampled rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Score > rows[i-1].Score {
			t.Error("rows not sorted by descending score")
		}
	}
}
