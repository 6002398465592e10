package printer

import "github.com/slok/taskforge/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintTaskList(tasks []model.Task) error
	PrintTask(task model.Task) error
	PrintPrompt(prompt model.ExecutionPrompt) error
	PrintVerification(res model.VerificationResult) error
	PrintMessage(msg string) error
}

var (
	_ Printer = &TablePrinter{}
	_ Printer = &JSONPrinter{}
)
