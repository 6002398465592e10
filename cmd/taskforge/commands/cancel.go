package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/cancel"
)

type CancelCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskID string
	reason string
}

// NewCancelCommand returns the cancel command.
func NewCancelCommand(rootCmd *RootCommand, app *kingpin.Application) *CancelCommand {
	c := &CancelCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("cancel", "Abandon an unsettled task.")
	c.Cmd.Arg("task-id", "Task ID.").Required().StringVar(&c.taskID)
	c.Cmd.Flag("reason", "Reason recorded with the transition.").Default("cancelled by user").StringVar(&c.reason)

	return c
}

func (c CancelCommand) Name() string { return c.Cmd.FullCommand() }

func (c CancelCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	m, err := rt.newMachine(false)
	if err != nil {
		return err
	}

	svc, err := cancel.NewService(cancel.ServiceConfig{
		Repository: rt.repo,
		Manager:    m,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, cancel.Request{TaskID: c.taskID, Reason: c.reason})
	if err != nil {
		return fmt.Errorf("could not cancel task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "%s %s\n", task.ID, task.State)

	return nil
}
