package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/inspect"
	"github.com/slok/taskforge/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	active      bool
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List tasks.")
	c.Cmd.Flag("state", "Filter by state.").StringVar(&c.stateFilter)
	c.Cmd.Flag("active", "Only tasks that have not settled.").BoolVar(&c.active)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	var stateFilter *model.TaskState
	if c.stateFilter != "" {
		state := model.TaskState(strings.ToLower(c.stateFilter))
		switch state {
		case model.TaskStateDrafting, model.TaskStateAwaitingExecution, model.TaskStateVerifying, model.TaskStateRetrying,
			model.TaskStateAccepted, model.TaskStateEscalated, model.TaskStateAbandoned:
			stateFilter = &state
		default:
			return fmt.Errorf("invalid state filter: %s", c.stateFilter)
		}
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	svc, err := inspect.NewService(inspect.ServiceConfig{Repository: rt.repo, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	tasks, err := svc.List(ctx, inspect.ListRequest{StateFilter: stateFilter, Active: c.active})
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintTaskList(tasks); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
