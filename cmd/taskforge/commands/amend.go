package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/amend"
)

type AmendCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID   string
	specPath string
	format   string
}

// NewAmendCommand returns the amend command.
func NewAmendCommand(rootCmd *RootCommand, app *kingpin.Application) *AmendCommand {
	c := &AmendCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("amend", "Replace the spec of an unsettled task with a new version.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Arg("spec", "Amended task spec YAML file.").Required().StringVar(&c.specPath)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c AmendCommand) Name() string { return c.Cmd.FullCommand() }

func (c AmendCommand) Run(ctx context.Context) error {
	specPath, err := fsPath(c.specPath)
	if err != nil {
		return err
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	m, err := rt.newMachine(false)
	if err != nil {
		return err
	}

	svc, err := amend.NewService(amend.ServiceConfig{
		SpecRepository: rt.specs,
		Repository:     rt.repo,
		Manager:        m,
		Logger:         c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, amend.Request{TaskID: c.taskID, SpecPath: specPath})
	if err != nil {
		return fmt.Errorf("could not amend task: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintTask(*task); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	return nil
}
