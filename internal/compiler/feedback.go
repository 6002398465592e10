package compiler

import (
	"fmt"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

const maxEvidenceLen = 300

// Feedback is the outcome of a previous attempt a retry prompt is compiled with.
type Feedback struct {
	AttemptNumber int
	Reason        model.FailureReason
	Overall       model.OverallStatus
	// Unmet are the criteria that failed or are unknown, in declaration order.
	Unmet []model.CriterionResult
	// Criteria texts by id, used to name the unmet criteria.
	CriterionText map[string]string
	// Detail is the error detail for non criteria failures.
	Detail              string
	MissingDeliverables []string
	InputsAltered       bool
}

// FeedbackFromAttempt builds the retry feedback of a finalized attempt.
func FeedbackFromAttempt(a model.ExecutionAttempt, criteria []model.SuccessCriterion) Feedback {
	fb := Feedback{
		AttemptNumber: a.Number,
		Reason:        a.FailureReason,
		Detail:        a.Error,
		CriterionText: make(map[string]string, len(criteria)),
	}
	for _, c := range criteria {
		fb.CriterionText[c.ID] = c.Text
	}
	if v := a.Verification; v != nil {
		fb.Overall = v.Overall
		fb.Unmet = v.Unmet()
		fb.MissingDeliverables = append([]string(nil), v.MissingDeliverables...)
		fb.InputsAltered = !v.InputsIntact
		if fb.Detail == "" {
			fb.Detail = v.ScriptError
		}
	}
	return fb
}

func (f Feedback) render() string {
	var lines []string
	switch f.Reason {
	case model.FailureReasonTimeout:
		lines = append(lines,
			fmt.Sprintf("Attempt %d did not return within the time bound.", f.AttemptNumber),
			"Return a complete solution faster: keep the script focused on the requirements and avoid long running steps.")
	case model.FailureReasonRefusal:
		lines = append(lines, fmt.Sprintf("Attempt %d was declined%s.", f.AttemptNumber, suffixDetail(f.Detail)),
			"The task is in scope, complete it as specified.")
	case model.FailureReasonExecutor:
		lines = append(lines, fmt.Sprintf("Attempt %d could not be completed%s.", f.AttemptNumber, suffixDetail(f.Detail)),
			"Return the full artifact set described in the Artifact Contract.")
	case model.FailureReasonStructural:
		lines = append(lines, fmt.Sprintf("Attempt %d violated the Artifact Contract%s.", f.AttemptNumber, suffixDetail(f.Detail)),
			"Return every file the Artifact Contract requires, with the exact names it gives.")
	case model.FailureReasonSandbox:
		lines = append(lines, fmt.Sprintf("Attempt %d: `%s` failed when re-run in isolation%s.", f.AttemptNumber, model.ScriptFilename, suffixDetail(f.Detail)),
			"The script must run standalone with only the returned files and write every deliverable.")
	default:
		status := f.Overall
		if status == "" {
			status = model.OverallStatusFail
		}
		lines = append(lines, fmt.Sprintf("Attempt %d did not pass verification (%s).", f.AttemptNumber, status))
	}

	if len(f.MissingDeliverables) > 0 {
		lines = append(lines, "", "Missing deliverables:")
		for _, d := range f.MissingDeliverables {
			lines = append(lines, "- "+d)
		}
	}
	if f.InputsAltered {
		lines = append(lines, "", "The preserved input files were not byte-equal to the originals. Copy them verbatim.")
	}
	if len(f.Unmet) > 0 {
		lines = append(lines, "", "Unmet criteria:")
		for _, c := range f.Unmet {
			line := fmt.Sprintf("- [%s]", c.CriterionID)
			if t := f.CriterionText[c.CriterionID]; t != "" {
				line += " " + t
			}
			line += fmt.Sprintf(": %s", c.Status)
			if c.Evidence != "" {
				line += ". Evidence: " + truncate(c.Evidence, maxEvidenceLen)
			}
			lines = append(lines, line)
		}
		lines = append(lines, "", "Fix exactly these criteria without breaking the ones that passed.")
	}

	return strings.Join(lines, "\n")
}

func suffixDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ""
	}
	return ": " + truncate(detail, maxEvidenceLen)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
