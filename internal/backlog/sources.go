package backlog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PrioritySources is the deployed list of high-quality source tags used by
// the priority selection path.
type PrioritySources struct {
	Tags []string `yaml:"priority_sources"`
}

// LoadPrioritySources reads a priority-sources YAML file. A missing file is
// not an error; priority selection then degrades to recency only.
func LoadPrioritySources(path string) (*PrioritySources, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read priority sources: %w", err)
	}

	var sources PrioritySources
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse priority sources: %w", err)
	}
	return &sources, nil
}
