package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/taskforge/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintTaskList prints tasks in a table format.
func (t *TablePrinter) PrintTaskList(tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTITLE\tSTATE\tSPEC\tATTEMPTS\tUPDATED")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\tv%d\t%d/%d\t%s\n",
			task.ID,
			truncate(task.CurrentSpec().Title, 40),
			task.State,
			task.CurrentSpec().Version,
			task.CountedAttempts(),
			task.MaxRetries,
			TimeAgo(task.UpdatedAt),
		)
	}

	return nil
}

// PrintTask prints a task with its attempt history.
func (t *TablePrinter) PrintTask(task model.Task) error {
	tokens, cost := task.TotalUsage()

	fmt.Fprintf(t.writer, "ID:         %s\n", task.ID)
	fmt.Fprintf(t.writer, "Title:      %s\n", task.CurrentSpec().Title)
	fmt.Fprintf(t.writer, "State:      %s\n", task.State)
	if task.StateReason != "" {
		fmt.Fprintf(t.writer, "Reason:     %s\n", task.StateReason)
	}
	fmt.Fprintf(t.writer, "Spec:       v%d\n", task.CurrentSpec().Version)
	fmt.Fprintf(t.writer, "Attempts:   %d/%d\n", task.CountedAttempts(), task.MaxRetries)
	fmt.Fprintf(t.writer, "Usage:      %s\n", FormatUsage(tokens, cost))
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(task.CreatedAt))
	fmt.Fprintf(t.writer, "Updated:    %s\n", FormatTimestamp(task.UpdatedAt))

	if len(task.Attempts) > 0 {
		fmt.Fprintln(t.writer)
		if err := t.printAttempts(task.Attempts); err != nil {
			return err
		}
	}
	if len(task.Transitions) > 0 {
		fmt.Fprintln(t.writer)
		if err := t.printTransitions(task.Transitions); err != nil {
			return err
		}
	}

	return nil
}

func (t *TablePrinter) printAttempts(attempts []model.ExecutionAttempt) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "#\tSPEC\tSTATUS\tVERDICT\tARTIFACTS\tTOKENS\tCREATED\tDETAIL")
	for _, a := range attempts {
		verdict := "-"
		detail := a.Error
		if a.Verification != nil {
			verdict = string(a.Verification.Overall)
			detail = a.Verification.Reason
		}
		if a.FailureReason != model.FailureReasonNone && detail == "" {
			detail = string(a.FailureReason)
		}
		fmt.Fprintf(tw, "%d\tv%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			a.Number,
			a.SpecVersion,
			a.Status,
			verdict,
			FormatBytes(artifactsSize(a.Artifacts)),
			a.Usage.Total(),
			FormatTimestamp(a.CreatedAt),
			truncate(detail, 60),
		)
	}

	return tw.Flush()
}

func (t *TablePrinter) printTransitions(transitions []model.StateTransition) error {
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tAT\tREASON")
	for _, tr := range transitions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tr.From, tr.To, FormatTimestamp(tr.At), truncate(tr.Reason, 80))
	}
	return tw.Flush()
}

// PrintPrompt prints the prompt text as it is sent to the executor.
func (t *TablePrinter) PrintPrompt(prompt model.ExecutionPrompt) error {
	_, err := fmt.Fprintln(t.writer, prompt.Text)
	return err
}

// PrintVerification prints a verification result.
func (t *TablePrinter) PrintVerification(res model.VerificationResult) error {
	fmt.Fprintf(t.writer, "Overall:    %s\n", res.Overall)
	if res.Reason != "" {
		fmt.Fprintf(t.writer, "Reason:     %s\n", res.Reason)
	}
	fmt.Fprintf(t.writer, "Script:     exit %d\n", res.ScriptExitCode)
	if res.ScriptError != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", res.ScriptError)
	}
	fmt.Fprintf(t.writer, "Inputs:     %s\n", map[bool]string{true: "intact", false: "altered"}[res.InputsIntact])
	if len(res.MissingDeliverables) > 0 {
		fmt.Fprintf(t.writer, "Missing:    %s\n", strings.Join(res.MissingDeliverables, ", "))
	}

	if len(res.Criteria) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "CRITERION\tSTATUS\tJUDGE\tEVIDENCE")
	for _, c := range res.Criteria {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.CriterionID, c.Status, c.Judge, truncate(c.Evidence, 80))
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
