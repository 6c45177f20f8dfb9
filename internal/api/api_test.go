package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/internal/tracker"
	"github.com/apple/ml-policy-projector/pkg/llm"
	"github.com/apple/ml-policy-projector/pkg/routes"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usageServer(t *testing.T) (*httptest.Server, *tracker.Tracker) {
	t.Helper()

	track, err := tracker.Open(filepath.Join(t.TempDir(), "usage.db"), discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { track.Close() })

	mux := http.NewServeMux()
	routes.Register(mux, newUsageHandler(track, discard()).routes())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, track
}

func TestUsageStatsEndpoint(t *testing.T) {
	srv, track := usageServer(t)

	track.Observe(llm.Usage{Model: "gpt-4o-mini", Operation: "classify", PromptChars: 50, Duration: 20 * time.Millisecond, Success: true})
	track.Observe(llm.Usage{Model: "gpt-4o-mini", Operation: "suggest", PromptChars: 70, Duration: 35 * time.Millisecond, Success: false, Error: "timeout"})

	resp, err := http.Get(srv.URL + "/usage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats tracker.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if stats.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2", stats.TotalRequests)
	}
	if stats.SuccessfulRequests != 1 {
		t.Errorf("SuccessfulRequests = %d, want 1", stats.SuccessfulRequests)
	}
	if stats.ByOperation["classify"] != 1 {
		t.Errorf("classify count = %d, want 1", stats.ByOperation["classify"])
	}
}

func TestUsageStatsBadWindow(t *testing.T) {
	srv, _ := usageServer(t)

	resp, err := http.Get(srv.URL + "/usage?window=soon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBuildDocs(t *testing.T) {
	cfg := &config.Config{Version: "0.1.0"}
	cfg.API.BasePath = "/api"
	cfg.API.Docs.Title = "Policy Projector API"
	cfg.API.Docs.Description = "Interactive policy taxonomy service for model output review."

	data, err := buildDocs(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("spec is not valid JSON: %v", err)
	}

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %s, want 3.1.0", doc.OpenAPI)
	}
	if doc.Info.Title != "Policy Projector API" {
		t.Errorf("title = %s, want Policy Projector API", doc.Info.Title)
	}
	if doc.Info.Version != "0.1.0" {
		t.Errorf("version = %s, want 0.1.0", doc.Info.Version)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "/api" {
		t.Errorf("servers = %v, want [/api]", doc.Servers)
	}

	for _, path := range []string{
		"/datasets",
		"/datasets/{dataset}/activate",
		"/datasets/{dataset}/concepts",
		"/datasets/{dataset}/policies/matches",
		"/datasets/{dataset}/cases/{id}/fixes",
		"/usage",
	} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("missing path %s", path)
		}
	}
}
