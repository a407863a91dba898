package visibility

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a visibility file:
//
//	restricted:
//	  Carolimiau: [Dreft]
type File struct {
	Restricted map[string][]string `yaml:"restricted"`
}

// Parse decodes YAML visibility data.
func Parse(data []byte) (map[string][]string, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse visibility config: %w", err)
	}
	return f.Restricted, nil
}

// Load builds a Relation from an optional YAML file. An empty path yields a
// Relation with no restricted users.
func Load(path string) (*Relation, error) {
	if path == "" {
		return NewRelation(nil), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read visibility config: %w", err)
	}
	restricted, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewRelation(restricted), nil
}
