package model

// CriterionStatus is the verdict on a single criterion.
type CriterionStatus string

const (
	CriterionStatusPass    CriterionStatus = "pass"
	CriterionStatusFail    CriterionStatus = "fail"
	CriterionStatusUnknown CriterionStatus = "unknown"
)

// OverallStatus is the verdict on a whole artifact set.
type OverallStatus string

const (
	OverallStatusPass    OverallStatus = "pass"
	OverallStatusPartial OverallStatus = "partial"
	OverallStatusFail    OverallStatus = "fail"
)

// CriterionResult is the verdict on a single criterion plus the evidence behind it.
type CriterionResult struct {
	CriterionID string          `json:"criterion_id"`
	Status      CriterionStatus `json:"status"`
	Evidence    string          `json:"evidence"`
	Judge       string          `json:"judge,omitempty"`
}

// VerificationResult is the outcome of checking an artifact set against all criteria. It
// only depends on the verified input, the attempt records when it was finalized.
type VerificationResult struct {
	Criteria            []CriterionResult `json:"criteria"`
	Overall             OverallStatus     `json:"overall"`
	Reason              string            `json:"reason,omitempty"`
	ScriptExitCode      int               `json:"script_exit_code"`
	ScriptError         string            `json:"script_error,omitempty"`
	InputsIntact        bool              `json:"inputs_intact"`
	MissingDeliverables []string          `json:"missing_deliverables,omitempty"`
}

// DeriveOverall applies the overall status rule: fail when the script errored, a
// deliverable is absent or inputs were altered, partial when any criterion fails or is
// unknown, pass otherwise.
func DeriveOverall(scriptFailed bool, missingDeliverables int, inputsIntact bool, criteria []CriterionResult) OverallStatus {
	if scriptFailed || missingDeliverables > 0 || !inputsIntact {
		return OverallStatusFail
	}
	for _, c := range criteria {
		if c.Status != CriterionStatusPass {
			return OverallStatusPartial
		}
	}
	return OverallStatusPass
}

// Unmet returns the criteria that failed or are unknown.
func (r VerificationResult) Unmet() []CriterionResult {
	var res []CriterionResult
	for _, c := range r.Criteria {
		if c.Status != CriterionStatusPass {
			res = append(res, c)
		}
	}
	return res
}

// Criterion returns the result of a criterion.
func (r VerificationResult) Criterion(id string) (CriterionResult, bool) {
	for _, c := range r.Criteria {
		if c.CriterionID == id {
			return c, true
		}
	}
	return CriterionResult{}, false
}
