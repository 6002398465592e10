package verify

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/storage"
	taskverify "github.com/slok/taskforge/internal/verify"
)

// ServiceConfig is the configuration for the verify service.
type ServiceConfig struct {
	SpecRepository storage.TaskSpecRepository
	Verifier       lifecycle.Verifier
	Policy         *policy.Policy
	Logger         log.Logger
	Now            func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.SpecRepository == nil {
		return fmt.Errorf("spec repository is required")
	}

	if c.Verifier == nil {
		return fmt.Errorf("verifier is required")
	}

	if c.Policy == nil {
		c.Policy = policy.DefaultV1()
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Verify"})

	return nil
}

// Service verifies an artifact directory against a spec file, outside of any task.
type Service struct {
	specs    storage.TaskSpecRepository
	verifier lifecycle.Verifier
	policy   *policy.Policy
	logger   log.Logger
	now      func() time.Time
}

// NewService creates a new verify service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		specs:    cfg.SpecRepository,
		verifier: cfg.Verifier,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Request represents the verify request parameters.
type Request struct {
	SpecPath string
	// Artifacts holds the artifact set files at its root.
	Artifacts fs.FS
}

// Run checks the artifact contract and verifies the artifact set. Contract violations are
// returned as model.StructuralIncompleteError.
func (s *Service) Run(ctx context.Context, req Request) (*model.VerificationResult, error) {
	if req.SpecPath == "" || req.Artifacts == nil {
		return nil, fmt.Errorf("spec path and artifacts are required: %w", model.ErrNotValid)
	}

	tr, err := s.specs.GetTaskRequest(ctx, req.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("could not load task spec: %w", err)
	}
	spec := tr.Spec
	spec.Version = 1

	set, err := readArtifacts(req.Artifacts)
	if err != nil {
		return nil, err
	}
	set.ProducedAt = s.now().UTC()
	set.ProducerRunID = "local"

	var inputNames, pinned []string
	for _, in := range spec.InputData {
		inputNames = append(inputNames, in.Name)
	}
	for _, d := range spec.Deliverables {
		if d.Filename != "" {
			pinned = append(pinned, d.Filename)
		}
	}
	if err := dispatch.CheckStructure(set.Names(), inputNames, pinned); err != nil {
		return nil, err
	}

	prompt, err := compiler.Compile(spec, s.policy)
	if err != nil {
		return nil, fmt.Errorf("could not compile spec: %w", err)
	}

	s.logger.Debugf("verifying %d artifacts against %s", len(set.Files), req.SpecPath)
	return s.verifier.Verify(ctx, taskverify.Input{
		Spec:           spec,
		Prompt:         *prompt,
		Artifacts:      *set,
		OriginalInputs: tr.Inputs,
	})
}

func readArtifacts(fsys fs.FS) (*model.ArtifactSet, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("could not read artifacts dir: %w", err)
	}

	files := map[string][]byte{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		b, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("could not read %q: %w", e.Name(), err)
		}
		files[e.Name()] = b
	}

	return &model.ArtifactSet{Files: files}, nil
}
