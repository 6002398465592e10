package lib_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/slok/taskforge/pkg/lib"
)

func ExampleClient_SubmitTask() {
	ctx := context.Background()

	dataDir, err := os.MkdirTemp("", "taskforge-example-")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dataDir)

	client, err := lib.New(ctx, lib.Config{
		DataDir:     dataDir,
		ExecutorURL: "https://executor.example.com/run",
		Sandbox:     lib.SandboxLocal,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
		Spec:   []byte(handlesSpec),
		Inputs: map[string][]byte{"handles.csv": []byte("handle\na\n")},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(task.Title, task.State, task.MaxRetries)
	// Output: Clean Instagram handles drafting 3
}
