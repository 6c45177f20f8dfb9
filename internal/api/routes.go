package api

import (
	"fmt"
	"net/http"

	"github.com/apple/ml-policy-projector/internal/config"
	"github.com/apple/ml-policy-projector/pkg/openapi"
	"github.com/apple/ml-policy-projector/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) error {
	routes.Register(
		mux,
		domain.Projector.Handler().Routes(),
		newUsageHandler(runtime.Tracker, runtime.Logger).routes(),
	)

	docs, err := buildDocs(cfg)
	if err != nil {
		return fmt.Errorf("build openapi docs: %w", err)
	}
	mux.HandleFunc("GET /openapi.json", openapi.ServeSpec(docs))

	return nil
}
