package api

import (
	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/internal/projector"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Projector projector.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(cfg *config.Config, runtime *Runtime) *Domain {
	sessions := projector.NewSystem(
		runtime.Store,
		runtime.Engine,
		projector.SessionConfig{
			Columns:           cfg.Data.Columns.Columns(),
			LabelCol:          cfg.Data.LabelColumn,
			AutoPopulate:      cfg.Data.AutoPopulate,
			AutoPopulateLimit: cfg.Data.AutoPopulateLimit,
		},
		runtime.Pagination,
		runtime.Logger,
	)

	return &Domain{
		Projector: sessions,
	}
}
