// Package infrastructure provides core service initialization for application
// startup. It assembles the common dependencies (logging, artifact store,
// model engine, usage tracking) that domain systems require.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/apple/ml-policy-projector/internal/artifacts"
	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/internal/tracker"
	"github.com/apple/ml-policy-projector/pkg/lifecycle"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

// Infrastructure holds the core systems required by all domain modules.
// It provides a single point of initialization for lifecycle coordination,
// logging, artifact storage, the model engine, and usage tracking.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	Store     artifacts.Store
	Engine    *llm.Engine
	Tracker   *tracker.Tracker
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := artifacts.New(cfg.Data.Root, logger)

	engine := llm.NewEngine(newClient(&cfg.Model), llm.EngineConfig{
		MaxRequests: cfg.Model.MaxRequests,
		Window:      cfg.Model.WindowDuration(),
		Debug:       cfg.Model.Debug,
	}, logger)

	track, err := tracker.Open(cfg.Data.TrackerPath, logger)
	if err != nil {
		return nil, fmt.Errorf("tracker init failed: %w", err)
	}
	engine.SetObserver(track)

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Store:     store,
		Engine:    engine,
		Tracker:   track,
	}, nil
}

// Start registers infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	i.Lifecycle.OnShutdown(func() {
		<-i.Lifecycle.Context().Done()
		if err := i.Tracker.Close(); err != nil {
			i.Logger.Error("tracker close failed", "error", err)
		}
	})
	return nil
}

func newClient(cfg *config.ModelConfig) llm.Client {
	if cfg.Debug {
		return &llm.Offline{Name: cfg.Name}
	}
	return llm.NewHTTPClient(llm.ClientConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey(),
		Model:       cfg.Name,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.TimeoutDuration(),
	})
}
