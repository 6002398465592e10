package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/taskforge/cmd/taskforge/commands"
	"github.com/slok/taskforge/internal/log"
	loglogrus "github.com/slok/taskforge/internal/log/logrus"
)

// Version is set at build time.
var Version = "dev"

// Run runs the taskforge CLI with the given arguments and standard streams.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("taskforge", "Drive delegated data tasks from spec to a verified, accepted result.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	submitCmd := commands.NewSubmitCommand(rootCmd, app)
	listCmd := commands.NewListCommand(rootCmd, app)
	historyCmd := commands.NewHistoryCommand(rootCmd, app)
	compileCmd := commands.NewCompileCommand(rootCmd, app)
	verifyCmd := commands.NewVerifyCommand(rootCmd, app)
	all := []commands.Command{
		submitCmd,
		commands.NewRunCommand(rootCmd, app),
		compileCmd,
		verifyCmd,
		listCmd,
		historyCmd,
		commands.NewAmendCommand(rootCmd, app),
		commands.NewCancelCommand(rootCmd, app),
	}
	cmds := make(map[string]commands.Command, len(all))
	for _, c := range all {
		cmds[c.Name()] = c
	}

	// Commands whose stdout is the result, logs would only be noise.
	quiet := map[commands.Command]bool{
		listCmd:    true,
		historyCmd: true,
		compileCmd: true,
		verifyCmd:  true,
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	cmd, ok := cmds[cmdName]
	if !ok {
		return fmt.Errorf("unknown command %q", cmdName)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr
	if quiet[cmd] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}
	rootCmd.Logger = getLogger(*rootCmd)

	var g run.Group

	// Cancelling the command context cancels the running dispatches, their attempts are
	// recorded as cancelled.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		stop := make(chan struct{})
		g.Add(
			func() error {
				select {
				case <-signalCtx.Done():
					rootCmd.Logger.Infof("Termination signal received, interrupting in-flight executions")
				case <-stop:
				}
				return nil
			},
			func(_ error) {
				close(stop)
			},
		)
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := cmd.Run(ctx); err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func getLogger(config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	l := logrus.New()
	l.Out = config.Stderr
	if config.Debug {
		l.SetLevel(logrus.DebugLevel)
	}
	switch config.LoggerType {
	case commands.LoggerTypeJSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
			FullTimestamp: true,
		})
	}

	return loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(log.Kv{
		"app":     "taskforge",
		"version": Version,
	})
}

func main() {
	ctx := context.Background()
	if err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
