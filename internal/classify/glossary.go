package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Glossary is an optional YAML file of extra keywords, e.g.
//
//	high: ["sev1", "outage"]
//	nucleus: ["nuc"]
type Glossary struct {
	Keywords `yaml:",inline"`
}

func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary: %w", err)
	}
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse glossary yaml: %w", err)
	}
	return &g, nil
}

// FromGlossary builds a classifier with the default keywords extended by the
// glossary at path. An empty path yields the default classifier.
func FromGlossary(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	g, err := LoadGlossary(path)
	if err != nil {
		return nil, err
	}
	return New(DefaultKeywords().Merge(g.Keywords)), nil
}
