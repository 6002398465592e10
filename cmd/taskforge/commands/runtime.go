package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/taskforge/internal/conventions"
	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/escalation"
	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/executor/fake"
	"github.com/slok/taskforge/internal/executor/webhook"
	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/judge/opinion"
	"github.com/slok/taskforge/internal/judge/predicate"
	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/printer"
	"github.com/slok/taskforge/internal/sandbox"
	"github.com/slok/taskforge/internal/sandbox/docker"
	"github.com/slok/taskforge/internal/sandbox/local"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/storage/blob"
	"github.com/slok/taskforge/internal/storage/blob/minio"
	storageio "github.com/slok/taskforge/internal/storage/io"
	"github.com/slok/taskforge/internal/storage/sqlite"
	"github.com/slok/taskforge/internal/telemetry"
	"github.com/slok/taskforge/internal/verify"
)

// runtime holds the dependencies shared by the commands.
type runtime struct {
	root      *RootCommand
	repo      storage.Repository
	specs     storage.TaskSpecRepository
	policy    *policy.Policy
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
	closers   []func(context.Context) error
}

// newRuntime sets up telemetry, the task store and the policy.
func (c *RootCommand) newRuntime(ctx context.Context) (rt *runtime, err error) {
	rt = &runtime{root: c}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}

	tcfg := telemetry.Config{Enabled: c.Trace}
	if c.Trace {
		f, err := os.OpenFile(conventions.TracesPath(c.DataDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open traces file: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
		tcfg.TraceWriter = f
	}
	rt.telemetry, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("could not init telemetry: %w", err)
	}
	// Flushed before the traces file is closed.
	rt.closers = append(rt.closers, rt.telemetry.Shutdown)
	rt.metrics, err = telemetry.NewMetrics(rt.telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("could not create metrics: %w", err)
	}

	var blobs blob.Store
	if c.BlobBackend == BlobBackendMinIO {
		blobs, err = minio.NewStore(ctx, minio.StoreConfig{
			Endpoint:  c.MinIOEndpoint,
			AccessKey: c.MinIOAccessKey,
			SecretKey: c.MinIOSecretKey,
			Region:    c.MinIORegion,
			UseSSL:    c.MinIOUseSSL,
			Bucket:    c.MinIOBucket,
			Prefix:    c.MinIOPrefix,
			Logger:    c.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create blob store: %w", err)
		}
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.dbPath(),
		Blobs:  blobs,
		Logger: c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return repo.Close() })
	rt.repo = repo

	rootFS := os.DirFS("/")
	rt.specs = storageio.NewTaskSpecRepository(rootFS)
	rt.policy = policy.DefaultV1()
	if c.PolicyPath != "" {
		p, err := fsPath(c.PolicyPath)
		if err != nil {
			return nil, err
		}
		rt.policy, err = storageio.NewPolicyYAMLRepository(rootFS).GetPolicy(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("could not load policy: %w", err)
		}
	}

	return rt, nil
}

// Close releases the runtime resources in reverse order.
func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *runtime) newVerifier() (*verify.Verifier, error) {
	c := r.root

	var (
		runner sandbox.Runner
		err    error
	)
	switch c.Sandbox {
	case SandboxLocal:
		runner, err = local.NewRunner(local.RunnerConfig{Python: c.SandboxPython, Logger: c.Logger})
	default:
		runner, err = docker.NewRunner(docker.RunnerConfig{Image: c.SandboxImage, Logger: c.Logger})
	}
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox runner: %w", err)
	}

	pj, err := predicate.NewJudge(predicate.JudgeConfig{Policy: r.policy, Logger: c.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create predicate judge: %w", err)
	}
	judges := []judge.Judge{pj}
	if c.OpinionURL != "" {
		oj, err := opinion.NewJudge(opinion.JudgeConfig{URL: c.OpinionURL, Headers: c.OpinionHeaders, Logger: c.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create opinion judge: %w", err)
		}
		judges = append(judges, oj)
	}

	return verify.NewVerifier(verify.VerifierConfig{
		Runner:        runner,
		Judges:        judges,
		MaxConcurrent: c.MaxConcurrentBoxes,
		ScriptTimeout: c.ScriptTimeout,
		Metrics:       r.metrics,
		Tracer:        r.telemetry.Tracer,
		Logger:        c.Logger,
	})
}

func (r *runtime) newExecutor() (executor.Executor, error) {
	c := r.root

	switch c.Executor {
	case ExecutorFake:
		if c.FakeArtifactsDir == "" {
			return nil, fmt.Errorf("fake executor requires --fake-artifacts-dir")
		}
		step, err := fake.StepFromFS(os.DirFS(c.FakeArtifactsDir))
		if err != nil {
			return nil, err
		}
		return fake.NewExecutor(step), nil
	default:
		return webhook.NewExecutor(webhook.ExecutorConfig{
			URL:     c.ExecutorURL,
			Headers: c.ExecutorHeaders,
			Tier:    model.ModelTier(c.ExecutorTier),
			Logger:  c.Logger,
		})
	}
}

// newMachine returns the lifecycle machine, commands that only change task state
// (cancel, amend) get one that never dispatches.
func (r *runtime) newMachine(dispatches bool) (*lifecycle.Machine, error) {
	c := r.root

	var exec executor.Executor = idleExecutor{}
	if dispatches {
		e, err := r.newExecutor()
		if err != nil {
			return nil, fmt.Errorf("could not create executor: %w", err)
		}
		exec = e
	}
	ctrl, err := dispatch.NewController(dispatch.ControllerConfig{
		Executor:       exec,
		MaxConcurrent:  c.MaxConcurrentExecs,
		DefaultTimeout: c.DispatchTimeout,
		Metrics:        r.metrics,
		Tracer:         r.telemetry.Tracer,
		Logger:         c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create dispatch controller: %w", err)
	}

	v, err := r.newVerifier()
	if err != nil {
		return nil, fmt.Errorf("could not create verifier: %w", err)
	}

	reviewer, err := escalation.NewFileReviewer(escalation.FileReviewerConfig{
		Dir:    conventions.EscalationsPath(c.DataDir),
		Logger: c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create reviewer: %w", err)
	}

	return lifecycle.NewMachine(lifecycle.MachineConfig{
		Repository:      r.repo,
		Policy:          r.policy,
		Dispatcher:      ctrl,
		Verifier:        v,
		Reviewer:        reviewer,
		AcceptPartial:   c.AcceptPartial,
		CostCapUSD:      c.CostCapUSD,
		DispatchTimeout: c.DispatchTimeout,
		Metrics:         r.metrics,
		Tracer:          r.telemetry.Tracer,
		Logger:          c.Logger,
	})
}

type idleExecutor struct{}

func (idleExecutor) Execute(context.Context, executor.Request) (*executor.Response, error) {
	return nil, fmt.Errorf("this command does not dispatch executions")
}

func (c RootCommand) printer(format string) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(c.Stdout)
	}
	return printer.NewTablePrinter(c.Stdout)
}

// fsPath returns a path usable inside the root filesystem.
func fsPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("could not resolve %q: %w", p, err)
	}
	return strings.TrimPrefix(filepath.ToSlash(abs), "/"), nil
}
