package api

import (
	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/pkg/openapi"
)

// buildDocs constructs the OpenAPI document for the API module and returns
// its serialized JSON.
func buildDocs(cfg *config.Config) ([]byte, error) {
	spec := openapi.NewSpec(cfg.API.Docs.Title, cfg.Version)
	spec.SetDescription(cfg.API.Docs.Description)
	spec.AddServer(cfg.API.BasePath)

	spec.Components.AddSchemas(map[string]*openapi.Schema{
		"ConceptSpec": {
			Type:     "object",
			Required: []string{"name", "description"},
			Properties: map[string]*openapi.Schema{
				"name":        {Type: "string", Description: "Unique concept name"},
				"id":          {Type: "string", Description: "Concept id, defaults to the name"},
				"description": {Type: "string", Description: "Criteria the concept classifies by"},
				"examples":    {Type: "array", Items: &openapi.Schema{Type: "string"}, Description: "Example ids known to exhibit the concept"},
				"fixes":       {Type: "array", Items: &openapi.Schema{Type: "string"}, Description: "Example ids demonstrating the concept's fix"},
			},
		},
		"PolicySpec": {
			Type:     "object",
			Required: []string{"name", "if"},
			Properties: map[string]*openapi.Schema{
				"name":        {Type: "string", Description: "Policy name"},
				"id":          {Type: "string", Description: "Policy id, minted on creation when absent"},
				"description": {Type: "string"},
				"if":          {Type: "array", Items: &openapi.Schema{Type: "string"}, Description: "Concept names that must all match"},
				"then":        {Type: "array", Items: &openapi.Schema{Type: "string"}, Description: "Concept names describing the remedy"},
				"examples":    {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"fixes":       {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"index":       {Type: "integer", Description: "Stable ordering position"},
			},
		},
		"CaseSpec": {
			Type:     "object",
			Required: []string{"name", "examples", "existing_concept"},
			Properties: map[string]*openapi.Schema{
				"name":             {Type: "string"},
				"description":      {Type: "string"},
				"examples":         {Type: "array", Items: openapi.SchemaRef("Example")},
				"fixes":            {Type: "array", Items: openapi.SchemaRef("Example")},
				"existing_concept": {Type: "string", Description: "Registered concept the case layers on"},
			},
		},
		"Example": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":       {Type: "string"},
				"in_text":  {Type: "string", Description: "Prompt or input text"},
				"out_text": {Type: "string", Description: "Model output text"},
				"source":   {Type: "string"},
				"score":    {Type: "integer"},
			},
		},
		"MatchRow": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":             {Type: "string"},
				"text":           {Type: "string"},
				"score":          {Type: "integer", Description: "1 when every if-concept matched"},
				"concept_scores": {Type: "object"},
				"rationales":     {Type: "object"},
				"source":         {Type: "string"},
			},
		},
		"SessionSummary": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"dataset":  {Type: "string"},
				"rows":     {Type: "integer"},
				"concepts": {Type: "integer"},
				"policies": {Type: "integer"},
			},
		},
		"MutationResult": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"success":          {Type: "boolean"},
				"changed_examples": {Type: "boolean"},
				"index":            {Type: "integer"},
				"id":               {Type: "string"},
			},
		},
		"SimilarResult": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"example_ids": {Type: "array", Items: &openapi.Schema{Type: "string"}},
				"count":       {Type: "integer"},
			},
		},
		"UsageStats": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"total_requests":      {Type: "integer"},
				"successful_requests": {Type: "integer"},
				"success_rate":        {Type: "number"},
				"total_prompt_chars":  {Type: "integer"},
				"by_operation":        {Type: "object"},
			},
		},
	})

	dataset := openapi.PathParam("dataset", "Dataset name within the artifact store")

	spec.Paths["/datasets"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "List datasets",
			Tags:    []string{"datasets"},
			Responses: map[int]*openapi.Response{
				200: {Description: "Dataset names"},
			},
		},
	}

	spec.Paths["/datasets/{dataset}/activate"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Activate a dataset session",
			Tags:       []string{"datasets"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Session summary", "SessionSummary"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/examples"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "Page through the dataset's examples",
			Tags:    []string{"datasets"},
			Parameters: []*openapi.Parameter{
				dataset,
				openapi.QueryParam("page", "integer", "Page number (1-indexed)", false),
				openapi.QueryParam("page_size", "integer", "Results per page", false),
			},
			Responses: map[int]*openapi.Response{
				200: {Description: "Page of examples"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/concepts"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "List registered concepts",
			Tags:       []string{"concepts"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				200: {Description: "Concept specs"},
			},
		},
		Post: &openapi.Operation{
			Summary:     "Add a concept",
			Tags:        []string{"concepts"},
			Parameters:  []*openapi.Parameter{dataset},
			RequestBody: openapi.RequestBodyJSON("ConceptSpec", true),
			Responses: map[int]*openapi.Response{
				201: openapi.ResponseJSON("Created concept", "ConceptSpec"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
		Put: &openapi.Operation{
			Summary:     "Update a concept",
			Tags:        []string{"concepts"},
			Parameters:  []*openapi.Parameter{dataset},
			RequestBody: openapi.RequestBodyJSON("ConceptSpec", true),
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Mutation outcome", "MutationResult"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/concepts/similar"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Classify the dataset against a concept",
			Tags:       []string{"concepts"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Matching example ids", "SimilarResult"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/concepts/suggest"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Suggest new concepts from the dataset",
			Tags:       []string{"concepts"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				201: {Description: "Suggested concept specs"},
			},
		},
	}

	spec.Paths["/datasets/{dataset}/policies"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary:    "List registered policies",
			Tags:       []string{"policies"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				200: {Description: "Policy specs"},
			},
		},
		Post: &openapi.Operation{
			Summary:     "Add a policy",
			Tags:        []string{"policies"},
			Parameters:  []*openapi.Parameter{dataset},
			RequestBody: openapi.RequestBodyJSON("PolicySpec", true),
			Responses: map[int]*openapi.Response{
				201: openapi.ResponseJSON("Mutation outcome", "MutationResult"),
				404: openapi.ResponseRef("NotFound"),
				409: openapi.ResponseRef("Conflict"),
			},
		},
		Put: &openapi.Operation{
			Summary:     "Update a policy",
			Tags:        []string{"policies"},
			Parameters:  []*openapi.Parameter{dataset},
			RequestBody: openapi.RequestBodyJSON("PolicySpec", true),
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Mutation outcome", "MutationResult"),
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/policies/matches"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Evaluate a policy's if-conditions over the dataset",
			Tags:       []string{"policies"},
			Parameters: []*openapi.Parameter{dataset},
			Responses: map[int]*openapi.Response{
				200: {Description: "Match rows"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/cases"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:     "Seed a concept and policy from a curated case",
			Tags:        []string{"cases"},
			Parameters:  []*openapi.Parameter{dataset},
			RequestBody: openapi.RequestBodyJSON("CaseSpec", true),
			Responses: map[int]*openapi.Response{
				201: {Description: "Created case"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	caseID := openapi.PathParam("id", "Case id")

	spec.Paths["/datasets/{dataset}/cases/{id}/similar"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Find dataset rows exhibiting the case's failure",
			Tags:       []string{"cases"},
			Parameters: []*openapi.Parameter{dataset, caseID},
			Responses: map[int]*openapi.Response{
				200: {Description: "Match rows"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/datasets/{dataset}/cases/{id}/fixes"] = &openapi.PathItem{
		Post: &openapi.Operation{
			Summary:    "Apply the case's fix to the given examples",
			Tags:       []string{"cases"},
			Parameters: []*openapi.Parameter{dataset, caseID},
			Responses: map[int]*openapi.Response{
				200: {Description: "Fixed examples"},
				404: openapi.ResponseRef("NotFound"),
			},
		},
	}

	spec.Paths["/usage"] = &openapi.PathItem{
		Get: &openapi.Operation{
			Summary: "Report model usage over a trailing window",
			Tags:    []string{"usage"},
			Parameters: []*openapi.Parameter{
				openapi.QueryParam("window", "string", "Trailing window as a Go duration, default 24h", false),
			},
			Responses: map[int]*openapi.Response{
				200: openapi.ResponseJSON("Usage stats", "UsageStats"),
				400: openapi.ResponseRef("BadRequest"),
			},
		},
	}

	return openapi.MarshalJSON(spec)
}
