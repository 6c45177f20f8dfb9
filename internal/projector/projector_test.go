package projector_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/apple/ml-policy-projector/internal/artifacts"
	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/internal/projector"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) artifacts.Store {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "replies")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	csv := "id,in_text,out_text,source,score,label\n" +
		"1,q1,r1,seed,,refusal\n" +
		"2,q2,r2,seed,,overcompliance\n" +
		"3,q3,r3,seed,,refusal\n" +
		"4,q4,r4,seed,,\n"
	if err := os.WriteFile(filepath.Join(dir, "replies.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	return artifacts.New(root, discard())
}

func testManager(
	t *testing.T,
	cfg projector.SessionConfig,
	respond func(prompt string) (string, bool),
) (*projector.Manager, artifacts.Store) {
	t.Helper()

	store := testStore(t)
	if cfg.Columns == (datasets.Columns{}) {
		cfg.Columns = datasets.Canonical()
	}

	client := &llm.Offline{Respond: respond}
	engine := llm.NewEngine(client, llm.EngineConfig{Debug: true}, discard())
	return projector.NewManager(store, engine, cfg, discard()), store
}

func TestActivateLoadsTable(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Dataset() != "replies" {
		t.Errorf("dataset = %q, want replies", p.Dataset())
	}
	if p.Table().Count() != 4 {
		t.Errorf("rows = %d, want 4", p.Table().Count())
	}
}

func TestActiveRequiresSession(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	if _, err := m.Active(); !errors.Is(err, projector.ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestActivateMissingDataset(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	if _, err := m.Activate("absent"); !errors.Is(err, artifacts.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionReusesActive(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	first, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.Session("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected Session to reuse the active projector")
	}
}

func TestActivateRehydratesTaxonomy(t *testing.T) {
	m, store := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "harsh tone",
		Description: "the reply is needlessly harsh",
		Examples:    []string{"1"},
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := p.AddPolicy(policies.Spec{
		Name: "no harsh refusals",
		If:   []string{"harsh tone"},
		Then: []string{"harsh tone"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine := llm.NewEngine(&llm.Offline{}, llm.EngineConfig{Debug: true}, discard())
	fresh := projector.NewManager(store, engine, projector.SessionConfig{
		Columns: datasets.Canonical(),
	}, discard())

	restored, err := fresh.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := restored.Concept("harsh tone")
	if err != nil {
		t.Fatalf("expected persisted concept to survive: %v", err)
	}
	if len(c.Examples) != 1 || c.Examples[0] != "1" {
		t.Errorf("examples = %v, want [1]", c.Examples)
	}

	pol, err := restored.Policy("p1")
	if err != nil {
		t.Fatalf("expected persisted policy to survive: %v", err)
	}
	if pol.Index != 0 {
		t.Errorf("index = %d, want 0", pol.Index)
	}
	if len(pol.IfConcepts) != 1 || pol.IfConcepts[0] != c {
		t.Error("expected policy to resolve against the restored concept")
	}
}

func TestActivateAutoPopulates(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{
		LabelCol:     "label",
		AutoPopulate: true,
	}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	registered := p.Concepts()
	if len(registered) != 2 {
		t.Fatalf("got %d concepts, want 2", len(registered))
	}

	refusal, err := p.Concept("refusal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refusal.ID != "1" {
		t.Errorf("id = %q, want 1", refusal.ID)
	}
	if !refusal.Labeled {
		t.Error("expected a labeled concept")
	}
	if len(refusal.Examples) != 2 || refusal.Examples[0] != "1" || refusal.Examples[1] != "3" {
		t.Errorf("examples = %v, want [1 3]", refusal.Examples)
	}
	if !strings.Contains(refusal.Description, "manually labeled with the label refusal") {
		t.Errorf("unexpected description %q", refusal.Description)
	}

	over, err := p.Concept("overcompliance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if over.ID != "2" {
		t.Errorf("id = %q, want 2", over.ID)
	}
	if len(over.Examples) != 1 || over.Examples[0] != "2" {
		t.Errorf("examples = %v, want [2]", over.Examples)
	}
}

func TestAutoPopulateSkipsExistingNames(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{LabelCol: "label"}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "refusal",
		Description: "the model declines",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created, err := p.AutoPopulate(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if _, err := p.Concept("overcompliance"); err != nil {
		t.Errorf("expected overcompliance concept: %v", err)
	}
}

func TestAddConceptDuplicateLeavesRegistry(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec := concepts.Spec{Name: "harsh tone", Description: "needlessly harsh"}
	if _, err := p.AddConcept(spec, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(spec, false); !errors.Is(err, projector.ErrDuplicateConcept) {
		t.Errorf("expected ErrDuplicateConcept, got %v", err)
	}
	if len(p.Concepts()) != 1 {
		t.Errorf("got %d concepts, want 1", len(p.Concepts()))
	}
}

func TestAddConceptLabeledRequiresLabelColumn(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec := concepts.Spec{Name: "refusal", Description: "the model declines"}
	if _, err := p.AddConcept(spec, true); !errors.Is(err, projector.ErrNoLabelColumn) {
		t.Errorf("expected ErrNoLabelColumn, got %v", err)
	}
}

func TestAddPolicyMintsIDAndBackReference(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := p.AddConcept(concepts.Spec{Name: "harsh tone", Description: "needlessly harsh"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pol, update, err := p.AddPolicy(policies.Spec{
		Name: "no harsh refusals",
		If:   []string{"harsh tone"},
		Then: []string{"harsh tone"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pol.ID != "p1" || update.ID != "p1" {
		t.Errorf("id = %q/%q, want p1", pol.ID, update.ID)
	}
	if pol.Index != 0 {
		t.Errorf("index = %d, want 0", pol.Index)
	}
	if len(c.Policies) != 1 || c.Policies[0] != "p1" {
		t.Errorf("concept back-references = %v, want [p1]", c.Policies)
	}
	if len(pol.IfConditions) != 1 || pol.IfConditions[0].Name != "harsh tone" {
		t.Errorf("unexpected snapshot %+v", pol.IfConditions)
	}
}

func TestAddPolicyPropagatesExamples(t *testing.T) {
	m, store := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := p.AddConcept(concepts.Spec{Name: "harsh tone", Description: "needlessly harsh"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, update, err := p.AddPolicy(policies.Spec{
		Name:     "no harsh refusals",
		If:       []string{"harsh tone"},
		Then:     []string{"harsh tone"},
		Examples: []string{"1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !update.ChangedExamples {
		t.Error("expected changed examples")
	}

	// Registry and disk agree on the propagated example.
	if len(c.Examples) != 1 || c.Examples[0] != "1" {
		t.Errorf("registry concept examples = %v, want [1]", c.Examples)
	}
	sections, err := store.LoadConcepts("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved := sections[0].Concepts[0].Examples
	if len(saved) != 1 || saved[0] != "1" {
		t.Errorf("saved concept examples = %v, want [1]", saved)
	}
}

func TestAddPolicyUnknownConcept(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err = p.AddPolicy(policies.Spec{
		Name: "no harsh refusals",
		If:   []string{"missing"},
		Then: []string{"missing"},
	})
	if !errors.Is(err, projector.ErrConceptNotFound) {
		t.Errorf("expected ErrConceptNotFound, got %v", err)
	}
}

func TestUpdatePolicyPropagatesExamples(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := p.AddConcept(concepts.Spec{
		Name:        "harsh tone",
		Description: "needlessly harsh",
		Examples:    []string{"1"},
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pol, _, err := p.AddPolicy(policies.Spec{
		Name:     "no harsh refusals",
		If:       []string{"harsh tone"},
		Then:     []string{"harsh tone"},
		Examples: []string{"1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec := pol.Spec
	spec.Examples = []string{"1", "3"}
	update, err := p.UpdatePolicy(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !update.ChangedExamples {
		t.Error("expected changed examples")
	}
	if len(c.Examples) != 2 || c.Examples[1] != "3" {
		t.Errorf("concept examples = %v, want [1 3]", c.Examples)
	}
}

func TestUpdatePolicyUnregistered(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = p.UpdatePolicy(policies.Spec{ID: "p9", Name: "ghost", If: []string{"x"}})
	if !errors.Is(err, projector.ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestSimilar(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, func(prompt string) (string, bool) {
		if strings.Contains(prompt, "r1") {
			return `{"pattern_result": {"rationale": "matches", "answer": "A"}}`, true
		}
		return `{"pattern_result": {"rationale": "does not match", "answer": "B"}}`, true
	})

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "harsh tone",
		Description: "needlessly harsh",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids, err := p.Similar(context.Background(), "harsh tone", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "1" {
		t.Errorf("ids = %v, want [1]", ids)
	}
}

func TestSimilarUnknownConcept(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Similar(context.Background(), "missing", 0); !errors.Is(err, projector.ErrConceptNotFound) {
		t.Errorf("expected ErrConceptNotFound, got %v", err)
	}
}

func TestAddCase(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "refusal",
		Description: "the model declines",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cs, err := p.AddCase(projector.CaseSpec{
		Name:        "sarcastic refusal",
		Description: "the refusal mocks the user",
		Examples: []datasets.Serialized{
			{ID: "e1", InText: "how do I reset my password", OutText: "oh sure, like that will help"},
		},
		Fixes: []datasets.Serialized{
			{ID: "f1", InText: "how do I reset my password", OutText: "use the account settings page"},
		},
		ExistingConcept: "refusal",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cs.ID != "0" {
		t.Errorf("case id = %q, want 0", cs.ID)
	}
	if cs.Concept.Name != "sarcastic refusal" {
		t.Errorf("concept = %q", cs.Concept.Name)
	}
	if len(cs.Concept.Examples) != 1 || cs.Concept.Examples[0] != "e1" {
		t.Errorf("concept examples = %v, want [e1]", cs.Concept.Examples)
	}

	pol := cs.Policy
	if len(pol.If) != 2 || pol.If[0] != "refusal" || pol.If[1] != "sarcastic refusal" {
		t.Errorf("if = %v, want [refusal sarcastic refusal]", pol.If)
	}
	if len(pol.Then) != 1 || pol.Then[0] != "sarcastic refusal" {
		t.Errorf("then = %v, want [sarcastic refusal]", pol.Then)
	}
	if pol.ID != "p1" {
		t.Errorf("policy id = %q, want p1", pol.ID)
	}

	got, err := p.Case("0")
	if err != nil || got != cs {
		t.Errorf("lookup = %v, %v", got, err)
	}
}

func TestFixSimilar(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, func(prompt string) (string, bool) {
		if !strings.Contains(prompt, "FIXED:") {
			return "", false
		}
		return `{"fixes": [
			{"example": "r1", "fix": "r1 without the harm"},
			{"example": "r2", "fix": "r2 without the harm"}
		]}`, true
	})

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "refusal",
		Description: "the model declines",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cs, err := p.AddCase(projector.CaseSpec{
		Name:            "sarcastic refusal",
		Description:     "the refusal mocks the user",
		Examples:        []datasets.Serialized{{ID: "e1", InText: "q", OutText: "oh sure"}},
		Fixes:           []datasets.Serialized{{ID: "f1", InText: "q", OutText: "here is how"}},
		ExistingConcept: "refusal",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fixes, err := p.FixSimilar(context.Background(), cs, []string{"1", "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fixes) != 2 {
		t.Fatalf("got %d fixes, want 2", len(fixes))
	}
	if fixes[0].ID != "1" || fixes[0].Fix != "r1 without the harm" {
		t.Errorf("unexpected fix %+v", fixes[0])
	}
	if fixes[1].ID != "2" || fixes[1].Fix != "r2 without the harm" {
		t.Errorf("unexpected fix %+v", fixes[1])
	}
}

func TestSuggestConceptsConcurrentRegistration(t *testing.T) {
	respond := func(prompt string) (string, bool) {
		if strings.Contains(prompt, "bullet point summaries") {
			return `{"patterns": [{"name": "evasive tone", "prompt": "does the text dodge the question", "example_ids": ["1"]}]}`, true
		}
		return `{"bullets": ["dodges the question"]}`, true
	}
	m, _ := testManager(t, projector.SessionConfig{}, respond)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 8 {
			spec := concepts.Spec{Name: fmt.Sprintf("filler %d", i), Description: "d"}
			if _, err := p.RegisterConcept(spec, false); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}()

	specs, err := p.SuggestConcepts(context.Background(), nil, 0)
	wg.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(specs) != 1 || specs[0].Name != "evasive tone" {
		t.Fatalf("unexpected suggestions: %+v", specs)
	}
	if _, err := p.Concept("evasive tone"); err != nil {
		t.Errorf("suggestion not registered: %v", err)
	}
}

func TestFixSimilarUnknownExample(t *testing.T) {
	m, _ := testManager(t, projector.SessionConfig{}, nil)

	p, err := m.Activate("replies")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.AddConcept(concepts.Spec{
		Name:        "refusal",
		Description: "the model declines",
	}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cs, err := p.AddCase(projector.CaseSpec{
		Name:            "sarcastic refusal",
		Description:     "the refusal mocks the user",
		Examples:        []datasets.Serialized{{ID: "e1", InText: "q", OutText: "oh sure"}},
		Fixes:           []datasets.Serialized{{ID: "f1", InText: "q", OutText: "here is how"}},
		ExistingConcept: "refusal",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.FixSimilar(context.Background(), cs, []string{"99"}); !errors.Is(err, projector.ErrExampleNotFound) {
		t.Errorf("expected ErrExampleNotFound, got %v", err)
	}
}
