package model

import (
	"fmt"
	"strings"
	"time"
)

// BudgetType is the kind of engagement the client budget refers to.
type BudgetType string

const (
	BudgetTypeFixed  BudgetType = "fixed"
	BudgetTypeHourly BudgetType = "hourly"
)

// Budget is the client budget for a task.
type Budget struct {
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Type     BudgetType `json:"type"`
}

// Requirement is a single client requirement. Order inside a spec is meaningful,
// later requirements may presuppose earlier ones.
type Requirement struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Deliverable is a single output the client expects.
type Deliverable struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Detail string `json:"detail,omitempty"`
	// Filename pins the produced file name, when empty the file is matched by format
	// among the output files.
	Filename string `json:"filename,omitempty"`
}

// Constraint is a free text client constraint.
type Constraint struct {
	Text string `json:"text"`
}

// InputDataRef describes an input file the client provides.
type InputDataRef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
}

// CheckKind is the kind of deterministic predicate a criterion can declare.
type CheckKind string

const (
	CheckKindFileExists   CheckKind = "file_exists"
	CheckKindFormatValid  CheckKind = "format_valid"
	CheckKindNonEmpty     CheckKind = "non_empty"
	CheckKindPrefix       CheckKind = "prefix"
	CheckKindNoDuplicates CheckKind = "no_duplicates"
	CheckKindSorted       CheckKind = "sorted"
	CheckKindSumEquals    CheckKind = "sum_equals"
	CheckKindRowCount     CheckKind = "row_count"
)

// SortOrder is the order used by sorted checks.
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// SortKey selects what a sorted check compares.
type SortKey string

const (
	SortKeyValue  SortKey = "value"
	SortKeyLength SortKey = "length"
)

// Check is an explicit deterministic predicate declaration for a criterion.
type Check struct {
	Kind CheckKind `json:"kind"`
	// File is the produced file the check runs on, empty means the deliverable file.
	File     string    `json:"file,omitempty"`
	Column   string    `json:"column,omitempty"`
	Value    string    `json:"value,omitempty"`
	Order    SortOrder `json:"order,omitempty"`
	Key      SortKey   `json:"key,omitempty"`
	Expected *float64  `json:"expected,omitempty"`
}

// SuccessCriterion is a single checkable condition a deliverable must satisfy.
type SuccessCriterion struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Checkable bool   `json:"checkable"`
	// DeliverableID binds the criterion to a deliverable, optional.
	DeliverableID string `json:"deliverable_id,omitempty"`
	Check         *Check `json:"check,omitempty"`
	// Synthesized is set on criteria generated by the compiler for uncovered deliverables.
	Synthesized bool `json:"synthesized,omitempty"`
}

// AmbiguityClass is one of the enumerable ambiguity classes a policy resolves.
type AmbiguityClass string

const (
	AmbiguityDuplicateScope   AmbiguityClass = "duplicate_scope"
	AmbiguitySortTieBreak     AmbiguityClass = "sort_tie_break"
	AmbiguityTextEncoding     AmbiguityClass = "text_encoding"
	AmbiguityNumericTolerance AmbiguityClass = "numeric_tolerance"
	AmbiguityDateFormat       AmbiguityClass = "date_format"
	AmbiguityMissingValues    AmbiguityClass = "missing_values"
)

// AmbiguityClasses is the fixed, ordered set of ambiguity classes.
var AmbiguityClasses = []AmbiguityClass{
	AmbiguityDuplicateScope,
	AmbiguitySortTieBreak,
	AmbiguityTextEncoding,
	AmbiguityNumericTolerance,
	AmbiguityDateFormat,
	AmbiguityMissingValues,
}

// IsKnown returns true if the class belongs to the fixed class set.
func (a AmbiguityClass) IsKnown() bool {
	for _, c := range AmbiguityClasses {
		if a == c {
			return true
		}
	}
	return false
}

// TaskSpec is the structured, versioned representation of one client request.
type TaskSpec struct {
	Version          int                       `json:"version"`
	Title            string                    `json:"title"`
	Description      string                    `json:"description"`
	Requirements     []Requirement             `json:"requirements"`
	Deliverables     []Deliverable             `json:"deliverables"`
	Constraints      []Constraint              `json:"constraints"`
	InputData        []InputDataRef            `json:"input_data"`
	SuccessCriteria  []SuccessCriterion        `json:"success_criteria"`
	Budget           Budget                    `json:"budget"`
	Deadline         *time.Time                `json:"deadline,omitempty"`
	AmbiguityChoices map[AmbiguityClass]string `json:"ambiguity_choices,omitempty"`
}

// Validate checks the spec is well formed. Completeness (title, deliverables and
// criteria present) is a compiler concern and is not checked here.
func (s TaskSpec) Validate() error {
	if err := uniqueIDs("requirement", len(s.Requirements), func(i int) string { return s.Requirements[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("deliverable", len(s.Deliverables), func(i int) string { return s.Deliverables[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("success criterion", len(s.SuccessCriteria), func(i int) string { return s.SuccessCriteria[i].ID }); err != nil {
		return err
	}

	inputs := map[string]bool{}
	for _, in := range s.InputData {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("input data name is required: %w", ErrNotValid)
		}
		if strings.ContainsAny(in.Name, `/\`) {
			return fmt.Errorf("input data name %q can't contain path separators: %w", in.Name, ErrNotValid)
		}
		if inputs[in.Name] {
			return fmt.Errorf("duplicated input data %q: %w", in.Name, ErrNotValid)
		}
		inputs[in.Name] = true
	}

	deliverables := map[string]bool{}
	for _, d := range s.Deliverables {
		deliverables[d.ID] = true
	}
	for _, c := range s.SuccessCriteria {
		if c.DeliverableID != "" && !deliverables[c.DeliverableID] {
			return fmt.Errorf("success criterion %q references unknown deliverable %q: %w", c.ID, c.DeliverableID, ErrNotValid)
		}
		if c.Check != nil && c.Check.Kind == "" {
			return fmt.Errorf("success criterion %q check kind is required: %w", c.ID, ErrNotValid)
		}
	}

	switch s.Budget.Type {
	case "", BudgetTypeFixed, BudgetTypeHourly:
	default:
		return fmt.Errorf("unknown budget type %q: %w", s.Budget.Type, ErrNotValid)
	}
	if s.Budget.Amount < 0 {
		return fmt.Errorf("budget amount can't be negative: %w", ErrNotValid)
	}

	for class := range s.AmbiguityChoices {
		if !class.IsKnown() {
			return fmt.Errorf("unknown ambiguity class %q: %w", class, ErrNotValid)
		}
	}

	return nil
}

func uniqueIDs(kind string, n int, id func(i int) string) error {
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		v := strings.TrimSpace(id(i))
		if v == "" {
			return fmt.Errorf("%s id is required: %w", kind, ErrNotValid)
		}
		if seen[v] {
			return fmt.Errorf("duplicated %s id %q: %w", kind, v, ErrNotValid)
		}
		seen[v] = true
	}
	return nil
}

// Covers returns true if the criterion covers the deliverable. A criterion without an
// explicit binding covers the only deliverable of a spec, or any deliverable its text names.
func (s TaskSpec) Covers(c SuccessCriterion, d Deliverable) bool {
	if c.DeliverableID != "" {
		return c.DeliverableID == d.ID
	}
	if len(s.Deliverables) == 1 {
		return true
	}
	text := strings.ToLower(c.Text)
	if d.Name != "" && strings.Contains(text, strings.ToLower(d.Name)) {
		return true
	}
	return d.Filename != "" && strings.Contains(text, strings.ToLower(d.Filename))
}

// Clone returns a deep copy of the spec.
func (s TaskSpec) Clone() TaskSpec {
	c := s
	c.Requirements = append([]Requirement(nil), s.Requirements...)
	c.Deliverables = append([]Deliverable(nil), s.Deliverables...)
	c.Constraints = append([]Constraint(nil), s.Constraints...)
	c.InputData = append([]InputDataRef(nil), s.InputData...)
	c.SuccessCriteria = nil
	for _, sc := range s.SuccessCriteria {
		if sc.Check != nil {
			chk := *sc.Check
			if chk.Expected != nil {
				exp := *chk.Expected
				chk.Expected = &exp
			}
			sc.Check = &chk
		}
		c.SuccessCriteria = append(c.SuccessCriteria, sc)
	}
	if s.Deadline != nil {
		d := *s.Deadline
		c.Deadline = &d
	}
	if s.AmbiguityChoices != nil {
		c.AmbiguityChoices = make(map[AmbiguityClass]string, len(s.AmbiguityChoices))
		for k, v := range s.AmbiguityChoices {
			c.AmbiguityChoices[k] = v
		}
	}
	return c
}
