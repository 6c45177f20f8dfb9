package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/apple/ml-policy-projector/internal/datasets"
)

const (
	EnvDataRoot              = "PROJECTOR_DATA_ROOT"
	EnvDataTrackerPath       = "PROJECTOR_DATA_TRACKER_PATH"
	EnvDataLabelColumn       = "PROJECTOR_DATA_LABEL_COLUMN"
	EnvDataAutoPopulate      = "PROJECTOR_DATA_AUTO_POPULATE"
	EnvDataAutoPopulateLimit = "PROJECTOR_DATA_AUTO_POPULATE_LIMIT"
)

// ColumnsConfig maps dataset column names onto the five table roles.
type ColumnsConfig struct {
	ID      string `toml:"id"`
	InText  string `toml:"in_text"`
	OutText string `toml:"out_text"`
	Source  string `toml:"source"`
	Score   string `toml:"score"`
}

// Columns converts the config into the dataset column mapping, falling back
// to canonical names for unset roles.
func (c *ColumnsConfig) Columns() datasets.Columns {
	cols := datasets.Canonical()
	if c.ID != "" {
		cols.ID = c.ID
	}
	if c.InText != "" {
		cols.InText = c.InText
	}
	if c.OutText != "" {
		cols.OutText = c.OutText
	}
	if c.Source != "" {
		cols.Source = c.Source
	}
	if c.Score != "" {
		cols.Score = c.Score
	}
	return cols
}

// DataConfig holds artifact store and dataset session parameters.
type DataConfig struct {
	Root              string        `toml:"root"`
	TrackerPath       string        `toml:"tracker_path"`
	Columns           ColumnsConfig `toml:"columns"`
	LabelColumn       string        `toml:"label_column"`
	AutoPopulate      bool          `toml:"auto_populate"`
	AutoPopulateLimit int           `toml:"auto_populate_limit"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *DataConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *DataConfig) Merge(overlay *DataConfig) {
	if overlay.Root != "" {
		c.Root = overlay.Root
	}
	if overlay.TrackerPath != "" {
		c.TrackerPath = overlay.TrackerPath
	}
	if overlay.LabelColumn != "" {
		c.LabelColumn = overlay.LabelColumn
	}
	if overlay.AutoPopulate {
		c.AutoPopulate = true
	}
	if overlay.AutoPopulateLimit != 0 {
		c.AutoPopulateLimit = overlay.AutoPopulateLimit
	}
	if overlay.Columns.ID != "" {
		c.Columns.ID = overlay.Columns.ID
	}
	if overlay.Columns.InText != "" {
		c.Columns.InText = overlay.Columns.InText
	}
	if overlay.Columns.OutText != "" {
		c.Columns.OutText = overlay.Columns.OutText
	}
	if overlay.Columns.Source != "" {
		c.Columns.Source = overlay.Columns.Source
	}
	if overlay.Columns.Score != "" {
		c.Columns.Score = overlay.Columns.Score
	}
}

func (c *DataConfig) loadDefaults() {
	if c.Root == "" {
		c.Root = "data"
	}
	if c.TrackerPath == "" {
		c.TrackerPath = "data/usage.db"
	}
}

func (c *DataConfig) loadEnv() {
	if v := os.Getenv(EnvDataRoot); v != "" {
		c.Root = v
	}
	if v := os.Getenv(EnvDataTrackerPath); v != "" {
		c.TrackerPath = v
	}
	if v := os.Getenv(EnvDataLabelColumn); v != "" {
		c.LabelColumn = v
	}
	if v := os.Getenv(EnvDataAutoPopulate); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoPopulate = b
		}
	}
	if v := os.Getenv(EnvDataAutoPopulateLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AutoPopulateLimit = n
		}
	}
}

func (c *DataConfig) validate() error {
	if c.Root == "" {
		return fmt.Errorf("data root required")
	}
	if c.AutoPopulate && c.LabelColumn == "" {
		return fmt.Errorf("auto_populate requires label_column")
	}
	return nil
}
