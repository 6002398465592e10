package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

// Config is the data a policy is built from.
type Config struct {
	// Version identifies the policy, it's part of every prompt version compiled with it.
	Version string
	// Defaults has the default resolution for every ambiguity class.
	Defaults map[model.AmbiguityClass]string
}

func (c *Config) validate() error {
	c.Version = strings.TrimSpace(c.Version)
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	for class, v := range c.Defaults {
		if !class.IsKnown() {
			return fmt.Errorf("unknown ambiguity class %q", class)
		}
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("ambiguity class %q default can't be empty", class)
		}
	}
	for _, class := range model.AmbiguityClasses {
		if _, ok := c.Defaults[class]; !ok {
			return fmt.Errorf("missing default for ambiguity class %q", class)
		}
	}

	if _, err := ParseTolerance(c.Defaults[model.AmbiguityNumericTolerance]); err != nil {
		return fmt.Errorf("invalid numeric tolerance default: %w", err)
	}

	return nil
}

// Policy is an immutable, versioned table of default resolutions for the known
// ambiguity classes. Changing a default means building a new policy with a new version.
type Policy struct {
	version   string
	defaults  map[model.AmbiguityClass]string
	tolerance float64
}

// New returns a new policy.
func New(cfg Config) (*Policy, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w: %w", err, model.ErrNotValid)
	}

	defaults := make(map[model.AmbiguityClass]string, len(cfg.Defaults))
	for k, v := range cfg.Defaults {
		defaults[k] = strings.TrimSpace(v)
	}
	tolerance, _ := ParseTolerance(defaults[model.AmbiguityNumericTolerance])

	return &Policy{
		version:   cfg.Version,
		defaults:  defaults,
		tolerance: tolerance,
	}, nil
}

// Version returns the policy version.
func (p *Policy) Version() string { return p.version }

// Default returns the default resolution of an ambiguity class.
func (p *Policy) Default(class model.AmbiguityClass) (string, bool) {
	v, ok := p.defaults[class]
	return v, ok
}

// NumericTolerance returns the default absolute tolerance for numeric comparisons.
func (p *Policy) NumericTolerance() float64 { return p.tolerance }

// Config returns a copy of the data the policy was built from.
func (p *Policy) Config() Config {
	defaults := make(map[model.AmbiguityClass]string, len(p.defaults))
	for k, v := range p.defaults {
		defaults[k] = v
	}
	return Config{Version: p.version, Defaults: defaults}
}

// Fingerprint returns a content hash of the policy. Two policies with the same version
// and different defaults have different fingerprints.
func (p *Policy) Fingerprint() string {
	classes := make([]string, 0, len(p.defaults))
	for c := range p.defaults {
		classes = append(classes, string(c))
	}
	sort.Strings(classes)

	h := sha256.New()
	fmt.Fprintf(h, "version=%s\n", p.version)
	for _, c := range classes {
		fmt.Fprintf(h, "%s=%s\n", c, p.defaults[model.AmbiguityClass(c)])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParseTolerance parses a numeric tolerance resolution. Accepts a plain number or a
// number followed by free text (e.g. "0.01 absolute").
func ParseTolerance(v string) (float64, error) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty tolerance")
	}
	t, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse tolerance %q: %w", v, err)
	}
	if t < 0 {
		return 0, fmt.Errorf("tolerance can't be negative")
	}
	return t, nil
}

// DefaultV1Config is the data of the built-in policy.
func DefaultV1Config() Config {
	return Config{
		Version: "v1",
		Defaults: map[model.AmbiguityClass]string{
			model.AmbiguityDuplicateScope:   "whole row, compared after every other requirement is applied",
			model.AmbiguitySortTieBreak:     "keep the original input order (stable sort)",
			model.AmbiguityTextEncoding:     "utf-8",
			model.AmbiguityNumericTolerance: "0.01 absolute",
			model.AmbiguityDateFormat:       "ISO 8601 (YYYY-MM-DD)",
			model.AmbiguityMissingValues:    "keep the row and leave the value empty",
		},
	}
}

// DefaultV1 returns the built-in policy.
func DefaultV1() *Policy {
	p, err := New(DefaultV1Config())
	if err != nil {
		panic(err)
	}
	return p
}
