// Package api assembles the API module with all domain systems and route registration.
package api

import (
	"net/http"

	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/internal/infrastructure"
	"github.com/apple/ml-policy-projector/pkg/middleware"
	"github.com/apple/ml-policy-projector/pkg/module"
)

// NewModule creates the API module with all domain handlers and middleware.
func NewModule(cfg *config.Config, infra *infrastructure.Infrastructure) (*module.Module, error) {
	runtime := NewRuntime(cfg, infra)
	domain := NewDomain(cfg, runtime)

	mux := http.NewServeMux()
	if err := registerRoutes(mux, domain, cfg, runtime); err != nil {
		return nil, err
	}

	m := module.New(cfg.API.BasePath, mux)
	m.Use(middleware.CORS(&cfg.API.CORS))
	m.Use(middleware.RequestID())
	m.Use(middleware.Logger(runtime.Logger))

	return m, nil
}
