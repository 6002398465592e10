package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/run"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	taskIDs            []string
	all                bool
	maxConcurrentTasks int
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Drive tasks until they settle, resuming them where they were left.")
	c.Cmd.Arg("task-id", "Tasks to run.").StringsVar(&c.taskIDs)
	c.Cmd.Flag("all", "Run every active task.").BoolVar(&c.all)
	c.Cmd.Flag("max-concurrent-tasks", "Tasks driven at the same time.").Default("4").IntVar(&c.maxConcurrentTasks)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	if len(c.taskIDs) == 0 && !c.all {
		return fmt.Errorf("task ids or --all are required")
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	m, err := rt.newMachine(true)
	if err != nil {
		return err
	}

	svc, err := run.NewService(run.ServiceConfig{
		Manager:            m,
		Repository:         rt.repo,
		MaxConcurrentTasks: c.maxConcurrentTasks,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	results, err := svc.Run(ctx, run.Request{TaskIDs: c.taskIDs, All: c.all})
	if err != nil {
		return fmt.Errorf("could not run tasks: %w", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(c.rootCmd.Stdout, "%s\t%s\terror: %s\n", r.TaskID, r.State, r.Err)
			continue
		}
		fmt.Fprintf(c.rootCmd.Stdout, "%s\t%s\n", r.TaskID, r.State)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks stopped with errors", failed, len(results))
	}

	return nil
}
