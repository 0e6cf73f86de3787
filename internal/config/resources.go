package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Resource is one published feature collection.
type Resource struct {
	Name        string
	Title       string
	Description string
	Keywords    []string
	Provider    ProviderConfig
}

// ProviderConfig binds a collection to a table. Field names follow the
// pygeoapi provider block.
type ProviderConfig struct {
	Type           string `yaml:"type"`
	Name           string `yaml:"name"`
	IDField        string `yaml:"id_field"`
	Table          string `yaml:"table"`
	GeomField      string `yaml:"geom_field"`
	TimeField      string `yaml:"time_field"`
	TimeStartField string `yaml:"time_start_field"`
}

type resourceEntry struct {
	Type        string           `yaml:"type"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description"`
	Keywords    []string         `yaml:"keywords"`
	Providers   []ProviderConfig `yaml:"providers"`
}

type resourcesFile struct {
	Resources map[string]resourceEntry `yaml:"resources"`
}

// LoadResources reads collections from a pygeoapi-style YAML file. Each
// collection needs exactly one provider of type "feature".
func LoadResources(path string) ([]Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources file: %w", err)
	}
	return ParseResources(data)
}

// ParseResources decodes resource YAML. Results are sorted by name.
func ParseResources(data []byte) ([]Resource, error) {
	var f resourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse resources: %w", err)
	}

	out := make([]Resource, 0, len(f.Resources))
	for name, entry := range f.Resources {
		if entry.Type != "" && entry.Type != "collection" {
			continue
		}
		var feature *ProviderConfig
		for i := range entry.Providers {
			if entry.Providers[i].Type != "feature" {
				continue
			}
			if feature != nil {
				return nil, fmt.Errorf("resource %s: more than one feature provider", name)
			}
			feature = &entry.Providers[i]
		}
		if feature == nil {
			return nil, fmt.Errorf("resource %s: no feature provider", name)
		}
		if feature.Table == "" {
			return nil, fmt.Errorf("resource %s: provider table is required", name)
		}
		title := entry.Title
		if title == "" {
			title = name
		}
		out = append(out, Resource{
			Name:        name,
			Title:       title,
			Description: entry.Description,
			Keywords:    entry.Keywords,
			Provider:    *feature,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DefaultResources publishes the spatial CDM tables.
func DefaultResources() []Resource {
	return []Resource{
		{
			Name:        "features",
			Title:       "Features of interest",
			Description: "Geospatial features that observations are made about.",
			Provider:    ProviderConfig{Type: "feature", Name: "PostgreSQL", IDField: "id", Table: "feature", GeomField: "geometry"},
		},
		{
			Name:        "hosts",
			Title:       "Hosts",
			Description: "Observing sites and platforms.",
			Keywords:    []string{"station", "WIGOS"},
			Provider:    ProviderConfig{Type: "feature", Name: "PostgreSQL", IDField: "id", Table: "host", GeomField: "location", TimeField: "valid_from"},
		},
		{
			Name:        "observations",
			Title:       "Observations",
			Description: "Climate observations.",
			Keywords:    []string{"observation", "climate"},
			Provider: ProviderConfig{
				Type: "feature", Name: "PostgreSQL", IDField: "id", Table: "observation", GeomField: "location",
				TimeField: "phenomenon_end", TimeStartField: "phenomenon_start",
			},
		},
		{
			Name:        "observers",
			Title:       "Observers",
			Description: "Sensors and instruments.",
			Provider:    ProviderConfig{Type: "feature", Name: "PostgreSQL", IDField: "id", Table: "observer", GeomField: "location"},
		},
	}
}
