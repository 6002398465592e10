package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/run"
	"github.com/slok/taskforge/internal/app/submit"
)

type SubmitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	specPath   string
	maxRetries int
	run        bool
	format     string
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("submit", "Submit a task spec file.")
	c.Cmd.Arg("spec", "Task spec YAML file.").Required().StringVar(&c.specPath)
	c.Cmd.Flag("max-retries", "Attempts before escalating, overrides the spec file value.").IntVar(&c.maxRetries)
	c.Cmd.Flag("run", "Drive the task until it settles after submitting it.").BoolVar(&c.run)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c SubmitCommand) Name() string { return c.Cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	specPath, err := fsPath(c.specPath)
	if err != nil {
		return err
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	m, err := rt.newMachine(c.run)
	if err != nil {
		return err
	}

	svc, err := submit.NewService(submit.ServiceConfig{
		SpecRepository: rt.specs,
		Manager:        m,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, submit.Request{SpecPath: specPath, MaxRetries: c.maxRetries})
	if err != nil {
		return fmt.Errorf("could not submit task: %w", err)
	}

	if c.run {
		runSvc, err := run.NewService(run.ServiceConfig{Manager: m, Repository: rt.repo, Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create service: %w", err)
		}
		results, err := runSvc.Run(ctx, run.Request{TaskIDs: []string{task.ID}})
		if err != nil {
			return fmt.Errorf("could not run task: %w", err)
		}
		if err := results[0].Err; err != nil {
			logger.Errorf("Task %s stopped in %s: %s", task.ID, results[0].State, err)
		}
		task, err = rt.repo.GetTask(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("could not get task: %w", err)
		}
	}

	if err := c.rootCmd.printer(c.format).PrintTask(*task); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	return nil
}
