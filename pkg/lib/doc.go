// Package lib provides a Go SDK for driving taskforge tasks programmatically.
//
// This package allows applications to submit task specs, drive them through
// execution and verification, and inspect their history without shelling out
// to the taskforge CLI binary. It shares the task store with the CLI, so tasks
// submitted with one can be run or inspected with the other.
//
// # Quick Start
//
// Create a client, submit a spec and run it until it settles:
//
//	client, err := lib.New(ctx, lib.Config{
//	    ExecutorURL: "https://executor.example.com/run",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
//	    Spec:   specYAML,
//	    Inputs: map[string][]byte{"handles": handlesCSV},
//	})
//	state, err := client.RunTask(ctx, task.ID)
//
// # Executors
//
// Attempts are dispatched to an executor. Set [Config].ExecutorURL to use the
// webhook executor or [Config].Executor to plug your own implementation of
// [Executor].
//
// # Sandboxes
//
// Reproducing scripts are re-run before judging the deliverables:
//
//   - [SandboxDocker]: a throw away container without network (default).
//   - [SandboxLocal]: a local python process, only for trusted development flows.
//
// # Errors
//
// Errors can be checked with [errors.Is] against [ErrNotFound], [ErrNotValid],
// [ErrInvalidTransition] and [ErrImmutable].
package lib
