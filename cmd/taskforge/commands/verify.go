package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/verify"
	"github.com/slok/taskforge/internal/model"
)

type VerifyCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	specPath     string
	artifactsDir string
	format       string
}

// NewVerifyCommand returns the verify command.
func NewVerifyCommand(rootCmd *RootCommand, app *kingpin.Application) *VerifyCommand {
	c := &VerifyCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("verify", "Verify a directory of artifacts against a spec file without storing anything.")
	c.Cmd.Arg("spec", "Task spec YAML file.").Required().StringVar(&c.specPath)
	c.Cmd.Arg("artifacts-dir", "Directory with execute.py and the deliverables.").Required().ExistingDirVar(&c.artifactsDir)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c VerifyCommand) Name() string { return c.Cmd.FullCommand() }

func (c VerifyCommand) Run(ctx context.Context) error {
	specPath, err := fsPath(c.specPath)
	if err != nil {
		return err
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	v, err := rt.newVerifier()
	if err != nil {
		return err
	}

	svc, err := verify.NewService(verify.ServiceConfig{
		SpecRepository: rt.specs,
		Verifier:       v,
		Policy:         rt.policy,
		Logger:         c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, verify.Request{SpecPath: specPath, Artifacts: os.DirFS(c.artifactsDir)})
	if err != nil {
		return fmt.Errorf("could not verify artifacts: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintVerification(*res); err != nil {
		return fmt.Errorf("could not print verification: %w", err)
	}
	if res.Overall != model.OverallStatusPass {
		return fmt.Errorf("verification %s: %s", res.Overall, res.Reason)
	}

	return nil
}
