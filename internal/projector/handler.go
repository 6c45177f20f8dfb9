package projector

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/pkg/handlers"
	"github.com/apple/ml-policy-projector/pkg/pagination"
	"github.com/apple/ml-policy-projector/pkg/routes"
)

// Handler provides HTTP endpoints for taxonomy session operations.
type Handler struct {
	sys        System
	logger     *slog.Logger
	pagination pagination.Config
}

// NewHandler creates a Handler with the given system, logger, and pagination config.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config) *Handler {
	return &Handler{
		sys:        sys,
		logger:     logger.With("handler", "projector"),
		pagination: pagination,
	}
}

// Routes returns the route group definition for taxonomy endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/datasets",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "POST", Pattern: "/{dataset}/activate", Handler: h.Activate},
			{Method: "GET", Pattern: "/{dataset}/examples", Handler: h.Examples},
			{Method: "GET", Pattern: "/{dataset}/concepts", Handler: h.Concepts},
			{Method: "POST", Pattern: "/{dataset}/concepts", Handler: h.AddConcept},
			{Method: "PUT", Pattern: "/{dataset}/concepts", Handler: h.UpdateConcept},
			{Method: "POST", Pattern: "/{dataset}/concepts/similar", Handler: h.Similar},
			{Method: "POST", Pattern: "/{dataset}/concepts/suggest", Handler: h.Suggest},
			{Method: "GET", Pattern: "/{dataset}/policies", Handler: h.Policies},
			{Method: "POST", Pattern: "/{dataset}/policies", Handler: h.AddPolicy},
			{Method: "PUT", Pattern: "/{dataset}/policies", Handler: h.UpdatePolicy},
			{Method: "POST", Pattern: "/{dataset}/policies/matches", Handler: h.Matches},
			{Method: "POST", Pattern: "/{dataset}/cases", Handler: h.AddCase},
			{Method: "POST", Pattern: "/{dataset}/cases/{id}/similar", Handler: h.CaseSimilar},
			{Method: "POST", Pattern: "/{dataset}/cases/{id}/fixes", Handler: h.CaseFixes},
		},
	}
}

// SessionSummary describes an activated session.
type SessionSummary struct {
	Dataset  string `json:"dataset"`
	Rows     int    `json:"rows"`
	Concepts int    `json:"concepts"`
	Policies int    `json:"policies"`
}

func summarize(p *Projector) SessionSummary {
	return SessionSummary{
		Dataset:  p.Dataset(),
		Rows:     p.Table().Count(),
		Concepts: len(p.Concepts()),
		Policies: len(p.Policies()),
	}
}

// List returns the datasets available in the artifact store.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.sys.Datasets()
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	handlers.RespondJSON(w, http.StatusOK, names)
}

// Activate loads a dataset into a fresh session, discarding the previous one.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	p, err := h.sys.Activate(r.PathValue("dataset"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, summarize(p))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Projector, bool) {
	p, err := h.sys.Session(r.PathValue("dataset"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return nil, false
	}
	return p, true
}

// Examples returns a page of the active dataset's rows in canonical form.
func (h *Handler) Examples(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	result := pagination.Paginate(p.Table().Serialize(), page)
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Concepts returns the session's registered concept specs.
func (h *Handler) Concepts(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	specs := []concepts.Spec{}
	for _, c := range p.Concepts() {
		specs = append(specs, c.Spec)
	}
	handlers.RespondJSON(w, http.StatusOK, specs)
}

// AddConceptRequest wraps a concept spec with its labeling mode.
type AddConceptRequest struct {
	concepts.Spec
	Labeled bool `json:"labeled"`
}

// AddConcept registers and persists a new concept. Duplicate ids conflict.
func (h *Handler) AddConcept(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AddConceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	c, err := p.AddConcept(req.Spec, req.Labeled)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, c.Spec)
}

// MutationResult acknowledges a concept or policy mutation.
type MutationResult struct {
	Success         bool   `json:"success"`
	ChangedExamples bool   `json:"changed_examples"`
	Index           *int   `json:"index,omitempty"`
	ID              string `json:"id,omitempty"`
}

// UpdateConcept replaces a concept's definition.
func (h *Handler) UpdateConcept(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var spec concepts.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	changed, err := p.UpdateConcept(spec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, MutationResult{Success: true, ChangedExamples: changed})
}

// ClassifyRequest identifies a concept or policy to evaluate and a sample cap.
type ClassifyRequest struct {
	Concept string `json:"concept,omitempty"`
	Policy  string `json:"policy,omitempty"`
	Limit   int    `json:"limit"`
}

// SimilarResult lists the example ids a classification marked as matching.
type SimilarResult struct {
	ExampleIDs []string `json:"example_ids"`
	Count      int      `json:"count"`
}

// Similar classifies the dataset against a concept and returns matching ids.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	ids, err := p.Similar(r.Context(), req.Concept, req.Limit)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	handlers.RespondJSON(w, http.StatusOK, SimilarResult{ExampleIDs: ids, Count: len(ids)})
}

// SuggestRequest controls concept suggestion.
type SuggestRequest struct {
	FilterIDs []string `json:"filter_ids,omitempty"`
	Limit     int      `json:"limit"`
}

// Suggest proposes, registers, and persists new concepts.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	specs, err := p.SuggestConcepts(r.Context(), req.FilterIDs, req.Limit)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if specs == nil {
		specs = []concepts.Spec{}
	}
	handlers.RespondJSON(w, http.StatusCreated, specs)
}

// Policies returns the session's registered policy specs.
func (h *Handler) Policies(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	specs := []policies.Spec{}
	for _, pol := range p.Policies() {
		specs = append(specs, pol.Spec)
	}
	handlers.RespondJSON(w, http.StatusOK, specs)
}

// AddPolicy registers and persists a new policy, minting its id when absent.
func (h *Handler) AddPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var spec policies.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	_, update, err := p.AddPolicy(spec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, MutationResult{
		Success:         true,
		ChangedExamples: update.ChangedExamples,
		Index:           &update.Index,
		ID:              update.ID,
	})
}

// UpdatePolicy replaces a policy's definition, propagating new example ids
// into its if-concepts.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var spec policies.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	update, err := p.UpdatePolicy(spec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, MutationResult{
		Success:         true,
		ChangedExamples: update.ChangedExamples,
		Index:           &update.Index,
		ID:              update.ID,
	})
}

// Matches evaluates a policy's if-conditions over the dataset.
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	rows, err := p.MatchPolicy(r.Context(), req.Policy, req.Limit)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if rows == nil {
		rows = []policies.MatchRow{}
	}
	handlers.RespondJSON(w, http.StatusOK, rows)
}

// AddCase seeds a concept/policy pair from a curated example-plus-fix.
func (h *Handler) AddCase(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	var spec CaseSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	cs, err := p.AddCase(spec)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":      cs.ID,
		"concept": cs.Concept.Spec,
		"policy":  cs.Policy.Spec,
	})
}

// CaseSimilar surfaces dataset rows exhibiting the case's layered failure.
func (h *Handler) CaseSimilar(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	cs, err := p.Case(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	rows, err := p.FindSimilar(r.Context(), cs, req.Limit)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	if rows == nil {
		rows = []policies.MatchRow{}
	}
	handlers.RespondJSON(w, http.StatusOK, rows)
}

// CaseFixesRequest names the examples to rewrite with the case's fix.
type CaseFixesRequest struct {
	ExampleIDs []string `json:"example_ids"`
}

// CaseFixes applies the case's demonstrated fix to the given examples.
func (h *Handler) CaseFixes(w http.ResponseWriter, r *http.Request) {
	p, ok := h.session(w, r)
	if !ok {
		return
	}

	cs, err := p.Case(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	var req CaseFixesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	fixes, err := p.FixSimilar(r.Context(), cs, req.ExampleIDs)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, fixes)
}
