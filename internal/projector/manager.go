package projector

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/apple/ml-policy-projector/internal/artifacts"
	"github.com/apple/ml-policy-projector/internal/concepts"
	"github.com/apple/ml-policy-projector/internal/datasets"
	"github.com/apple/ml-policy-projector/internal/policies"
	"github.com/apple/ml-policy-projector/pkg/llm"
)

// SessionConfig describes how dataset tables map onto the session's column
// roles and whether labeled concepts are derived on activation.
type SessionConfig struct {
	Columns           datasets.Columns
	LabelCol          string
	AutoPopulate      bool
	AutoPopulateLimit int
}

// Manager owns the single active session. Activating a dataset rehydrates
// its persisted taxonomy from the artifact store and discards the previous
// session entirely.
type Manager struct {
	store  artifacts.Store
	engine *llm.Engine
	logger *slog.Logger
	cfg    SessionConfig

	mu     sync.Mutex
	active *Projector
}

// NewManager creates a Manager over the given store and engine.
func NewManager(store artifacts.Store, engine *llm.Engine, cfg SessionConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		engine: engine,
		logger: logger.With("system", "sessions"),
		cfg:    cfg,
	}
}

// Datasets lists datasets available in the artifact store.
func (m *Manager) Datasets() ([]string, error) {
	return m.store.Datasets()
}

// Active returns the current session, or ErrNoActiveSession.
func (m *Manager) Active() (*Projector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveSession
	}
	return m.active, nil
}

// Session returns the active session for dataset, activating it first when a
// different dataset (or none) is active.
func (m *Manager) Session(dataset string) (*Projector, error) {
	m.mu.Lock()
	if m.active != nil && m.active.Dataset() == dataset {
		p := m.active
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	return m.Activate(dataset)
}

// Activate loads the dataset's table and persisted taxonomy into a fresh
// session, replacing whatever was active before.
func (m *Manager) Activate(dataset string) (*Projector, error) {
	table, err := m.store.LoadTable(dataset, m.cfg.Columns)
	if err != nil {
		return nil, err
	}

	p := New(dataset, table, m.cfg.LabelCol, m.engine, m.store, m.logger, nil)

	sections, err := m.store.LoadConcepts(dataset)
	if err != nil {
		return nil, err
	}
	for _, section := range sections {
		for _, entry := range section.Concepts {
			spec := concepts.Spec{
				Name:        entry.Name,
				ID:          entry.ID,
				Description: entry.Description,
				Examples:    entry.Examples,
				Fixes:       entry.Fixes,
			}
			if _, err := p.RegisterConcept(spec, false); err != nil {
				m.logger.Warn("skipping persisted concept",
					"dataset", dataset,
					"concept", entry.Name,
					"error", err)
			}
		}
	}

	if m.cfg.AutoPopulate && m.cfg.LabelCol != "" {
		if _, err := p.AutoPopulate(m.cfg.AutoPopulateLimit); err != nil {
			return nil, fmt.Errorf("failed to auto-populate concepts: %w", err)
		}
	}

	specs, err := m.store.LoadPolicies(dataset)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if err := m.restorePolicy(p, spec); err != nil {
			m.logger.Warn("skipping persisted policy",
				"dataset", dataset,
				"policy", spec.ID,
				"error", err)
		}
	}

	m.mu.Lock()
	m.active = p
	m.mu.Unlock()

	m.logger.Info("session activated",
		"dataset", dataset,
		"rows", table.Count(),
		"concepts", len(p.Concepts()),
		"policies", len(p.Policies()))
	return p, nil
}

func (m *Manager) restorePolicy(p *Projector, spec policies.Spec) error {
	resolved := make([]*concepts.Concept, len(spec.If))
	for i, name := range spec.If {
		c, err := p.Concept(name)
		if err != nil {
			return err
		}
		resolved[i] = c
	}

	pol, err := policies.New(spec, resolved)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.policies[pol.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePolicy, pol.ID)
	}
	p.policies[pol.ID] = pol
	return nil
}
