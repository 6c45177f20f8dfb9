package config

import (
	"fmt"
	"os"

	"github.com/apple/ml-policy-projector/pkg/middleware"
	"github.com/apple/ml-policy-projector/pkg/openapi"
	"github.com/apple/ml-policy-projector/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "PROJECTOR_CORS_ENABLED",
	Origins:          "PROJECTOR_CORS_ORIGINS",
	AllowedMethods:   "PROJECTOR_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "PROJECTOR_CORS_ALLOWED_HEADERS",
	AllowCredentials: "PROJECTOR_CORS_ALLOW_CREDENTIALS",
	MaxAge:           "PROJECTOR_CORS_MAX_AGE",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "PROJECTOR_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "PROJECTOR_PAGINATION_MAX_PAGE_SIZE",
}

var docsEnv = &openapi.ConfigEnv{
	Title:       "PROJECTOR_DOCS_TITLE",
	Description: "PROJECTOR_DOCS_DESCRIPTION",
}

// APIConfig holds API routing, CORS, pagination, and docs settings.
type APIConfig struct {
	BasePath   string                `toml:"base_path"`
	CORS       middleware.CORSConfig `toml:"cors"`
	Pagination pagination.Config     `toml:"pagination"`
	Docs       openapi.Config        `toml:"docs"`
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested CORS, pagination, and docs configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if err := c.Docs.Finalize(docsEnv); err != nil {
		return fmt.Errorf("docs: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay across nested configs.
func (c *APIConfig) Merge(overlay *APIConfig) {
	if overlay.BasePath != "" {
		c.BasePath = overlay.BasePath
	}

	c.CORS.Merge(&overlay.CORS)
	c.Pagination.Merge(&overlay.Pagination)
	c.Docs.Merge(&overlay.Docs)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
}

func (c *APIConfig) loadEnv() {
	if v := os.Getenv("PROJECTOR_API_BASE_PATH"); v != "" {
		c.BasePath = v
	}
}
