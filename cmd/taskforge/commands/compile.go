package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskforge/internal/app/compile"
)

type CompileCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	specPath string
	taskID   string
	format   string
}

// NewCompileCommand returns the compile command.
func NewCompileCommand(rootCmd *RootCommand, app *kingpin.Application) *CompileCommand {
	c := &CompileCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("compile", "Print the execution prompt of a spec file or the next attempt of a task.")
	c.Cmd.Flag("spec", "Task spec YAML file.").StringVar(&c.specPath)
	c.Cmd.Flag("task", "Task ID.").StringVar(&c.taskID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c CompileCommand) Name() string { return c.Cmd.FullCommand() }

func (c CompileCommand) Run(ctx context.Context) error {
	if (c.specPath == "") == (c.taskID == "") {
		return fmt.Errorf("exactly one of --spec or --task is required")
	}

	req := compile.Request{TaskID: c.taskID}
	if c.specPath != "" {
		p, err := fsPath(c.specPath)
		if err != nil {
			return err
		}
		req.SpecPath = p
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	svc, err := compile.NewService(compile.ServiceConfig{
		SpecRepository: rt.specs,
		Repository:     rt.repo,
		Policy:         rt.policy,
		Logger:         c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	prompt, err := svc.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("could not compile prompt: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintPrompt(*prompt); err != nil {
		return fmt.Errorf("could not print prompt: %w", err)
	}

	return nil
}
