package source

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CatalogEntry holds the operator-tunable settings for one source.
type CatalogEntry struct {
	Name       string `yaml:"name"`
	Enabled    *bool  `yaml:"enabled"`     // nil means enabled
	WindowDays int    `yaml:"window_days"` // 0 means use the global default
}

// Catalog is the optional sources.yaml file: per-source enable flags and
// freshness window overrides.
type Catalog struct {
	Sources []CatalogEntry `yaml:"sources"`
}

// LoadCatalog reads a sources.yaml catalog. A missing file yields an empty
// catalog, not an error: the catalog is an override layer.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, eris.Wrapf(err, "source: read catalog %s", path)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrapf(err, "source: parse catalog %s", path)
	}
	return &c, nil
}

// Enabled reports whether the named source is enabled. Sources absent from
// the catalog are enabled.
func (c *Catalog) Enabled(name string) bool {
	for _, e := range c.Sources {
		if e.Name == name {
			return e.Enabled == nil || *e.Enabled
		}
	}
	return true
}

// Window returns the freshness window for the named source, falling back to
// the given default when the catalog has no override.
func (c *Catalog) Window(name string, def time.Duration) time.Duration {
	for _, e := range c.Sources {
		if e.Name == name && e.WindowDays > 0 {
			return time.Duration(e.WindowDays) * 24 * time.Hour
		}
	}
	return def
}
