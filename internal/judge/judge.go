package judge

import (
	"context"
	"sort"

	"github.com/slok/taskforge/internal/model"
)

// Input is what a judge receives to evaluate a single criterion.
type Input struct {
	Spec      model.TaskSpec
	Criterion model.SuccessCriterion
	// Files are the files the reproducing script left in the sandbox, never the ones the
	// executor returned.
	Files map[string][]byte
	// Resolutions are the ambiguity resolutions the attempt prompt was compiled with.
	Resolutions []model.AppliedDefault
}

// Verdict is the status of a criterion plus the evidence behind it. Evidence must be
// deterministic for the same input.
type Verdict struct {
	Status   model.CriterionStatus
	Evidence string
}

// Judge is a criterion evaluation capability. The verifier asks every judge, in order, if
// it supports a criterion and the first one that does evaluates it.
type Judge interface {
	Name() string
	Supports(c model.SuccessCriterion) bool
	Judge(ctx context.Context, in Input) (*Verdict, error)
}

// FileNames returns the sorted file names of the input.
func (i Input) FileNames() []string {
	names := make([]string, 0, len(i.Files))
	for n := range i.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Deliverable returns the first deliverable the criterion covers.
func (i Input) Deliverable() (model.Deliverable, bool) {
	for _, d := range i.Spec.Deliverables {
		if i.Spec.Covers(i.Criterion, d) {
			return d, true
		}
	}
	return model.Deliverable{}, false
}

// Resolution returns how an ambiguity class was resolved for the attempt.
func (i Input) Resolution(class model.AmbiguityClass) (model.AppliedDefault, bool) {
	for _, r := range i.Resolutions {
		if r.Class == class {
			return r, true
		}
	}
	return model.AppliedDefault{}, false
}
