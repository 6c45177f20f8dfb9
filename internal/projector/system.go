package projector

import (
	"log/slog"

	"github.com/apple/ml-policy-projector/internal/artifacts"
	"github.com/apple/ml-policy-projector/pkg/llm"
	"github.com/apple/ml-policy-projector/pkg/pagination"
)

// System defines the public contract for taxonomy session operations.
type System interface {
	Handler() *Handler

	Datasets() ([]string, error)
	Activate(dataset string) (*Projector, error)
	Session(dataset string) (*Projector, error)
	Active() (*Projector, error)
}

type system struct {
	*Manager
	handler *Handler
}

// NewSystem wires a session manager together with its HTTP handler.
func NewSystem(
	store artifacts.Store,
	engine *llm.Engine,
	cfg SessionConfig,
	pagination pagination.Config,
	logger *slog.Logger,
) System {
	s := &system{
		Manager: NewManager(store, engine, cfg, logger),
	}
	s.handler = NewHandler(s, logger, pagination)
	return s
}

func (s *system) Handler() *Handler {
	return s.handler
}
