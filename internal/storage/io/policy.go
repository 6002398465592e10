package io

import (
	"context"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
)

// PolicyYAMLRepository loads ambiguity policies from YAML files.
type PolicyYAMLRepository struct {
	fs fs.FS
}

// NewPolicyYAMLRepository creates a new YAML policy repository.
func NewPolicyYAMLRepository(filesystem fs.FS) *PolicyYAMLRepository {
	return &PolicyYAMLRepository{fs: filesystem}
}

// GetPolicy loads a policy from a YAML file. Classes the file doesn't set keep the
// built-in v1 default.
func (r *PolicyYAMLRepository) GetPolicy(ctx context.Context, path string) (*policy.Policy, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var doc PolicyConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w: %w", err, model.ErrNotValid)
	}

	return doc.toModel()
}

// PolicyConfig represents the YAML structure of a policy.
type PolicyConfig struct {
	Version  string            `yaml:"version"`
	Defaults map[string]string `yaml:"defaults"`
}

func (c PolicyConfig) toModel() (*policy.Policy, error) {
	cfg := policy.DefaultV1Config()
	cfg.Version = c.Version
	for class, v := range c.Defaults {
		cfg.Defaults[model.AmbiguityClass(class)] = v
	}

	return policy.New(cfg)
}
