package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
)

// SynthesizedCriterionPrefix prefixes the id of criteria generated for uncovered deliverables.
const SynthesizedCriterionPrefix = "auto-"

// Compile compiles a task spec into an execution prompt. The result only depends on the
// spec and the policy, compiling the same inputs always returns byte-identical prompts.
func Compile(spec model.TaskSpec, p *policy.Policy) (*model.ExecutionPrompt, error) {
	return compile(spec, p, nil)
}

// CompileRetry compiles a task spec like Compile and appends a retry feedback section
// after the artifact contract with the outcome of the previous attempt.
func CompileRetry(spec model.TaskSpec, p *policy.Policy, fb Feedback) (*model.ExecutionPrompt, error) {
	return compile(spec, p, &fb)
}

func compile(spec model.TaskSpec, p *policy.Policy, fb *Feedback) (*model.ExecutionPrompt, error) {
	if p == nil {
		return nil, fmt.Errorf("policy is required: %w", model.ErrNotValid)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}

	criteria := EffectiveCriteria(spec)
	if err := checkComplete(spec, criteria); err != nil {
		return nil, err
	}

	role, skills := inferRole(spec)
	applied := resolveAmbiguities(spec, p)

	sections := []model.Section{
		{Name: model.SectionRoleAssignment, Body: renderRole(role, skills)},
		{Name: model.SectionProjectBrief, Body: renderBrief(spec)},
		{Name: model.SectionRequirements, Body: renderRequirements(spec)},
		{Name: model.SectionDeliverables, Body: renderDeliverables(spec)},
		{Name: model.SectionConstraints, Body: renderConstraints(spec)},
		{Name: model.SectionInputData, Body: renderInputData(spec)},
		{Name: model.SectionSuccessCriteria, Body: renderCriteria(criteria)},
		{Name: model.SectionExecutionNotes, Body: renderNotes(p, applied)},
		{Name: model.SectionArtifactContract, Body: ArtifactContract},
	}
	if fb != nil {
		sections = append(sections, model.Section{Name: model.SectionRetryFeedback, Body: fb.render()})
	}

	text := renderText(sections)
	sum := sha256.Sum256([]byte(text))

	return &model.ExecutionPrompt{
		SpecVersion:     spec.Version,
		PolicyVersion:   p.Version(),
		Role:            role,
		Sections:        sections,
		AppliedDefaults: applied,
		Criteria:        criteria,
		Text:            text,
		Digest:          hex.EncodeToString(sum[:]),
	}, nil
}

func checkComplete(spec model.TaskSpec, criteria []model.SuccessCriterion) error {
	var missing []string
	if strings.TrimSpace(spec.Title) == "" {
		missing = append(missing, "title")
	}
	if len(spec.Deliverables) == 0 {
		missing = append(missing, "deliverables")
	}
	if len(criteria) == 0 {
		missing = append(missing, "success_criteria")
	}
	if len(missing) > 0 {
		return &model.SpecIncompleteError{Missing: missing}
	}
	return nil
}

// EffectiveCriteria returns the spec criteria plus a generic existence/format criterion
// for every deliverable no criterion covers. Synthesized ids are stable: "auto-<deliverable id>".
func EffectiveCriteria(spec model.TaskSpec) []model.SuccessCriterion {
	criteria := append([]model.SuccessCriterion(nil), spec.SuccessCriteria...)
	for _, d := range spec.Deliverables {
		covered := false
		for _, c := range spec.SuccessCriteria {
			if spec.Covers(c, d) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		chk := &model.Check{Kind: model.CheckKindFileExists}
		text := fmt.Sprintf("%s is produced", d.Name)
		if d.Format != "" {
			chk.Kind = model.CheckKindFormatValid
			text = fmt.Sprintf("%s is produced as a valid %s file", d.Name, d.Format)
		}
		criteria = append(criteria, model.SuccessCriterion{
			ID:            SynthesizedCriterionPrefix + d.ID,
			Text:          text,
			Checkable:     true,
			DeliverableID: d.ID,
			Check:         chk,
			Synthesized:   true,
		})
	}
	return criteria
}

func resolveAmbiguities(spec model.TaskSpec, p *policy.Policy) []model.AppliedDefault {
	res := make([]model.AppliedDefault, 0, len(model.AmbiguityClasses))
	for _, class := range model.AmbiguityClasses {
		if v := strings.TrimSpace(spec.AmbiguityChoices[class]); v != "" {
			res = append(res, model.AppliedDefault{Class: class, Value: v, Source: model.DefaultSourceExplicit})
			continue
		}
		v, _ := p.Default(class)
		res = append(res, model.AppliedDefault{Class: class, Value: v, Source: model.DefaultSourcePolicy})
	}
	return res
}

var headingLevel = map[model.SectionName]string{
	model.SectionRoleAssignment: "#",
	model.SectionProjectBrief:   "#",
}

func renderText(sections []model.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		level, ok := headingLevel[s.Name]
		if !ok {
			level = "##"
		}
		fmt.Fprintf(&b, "%s %s\n\n%s\n", level, s.Name, strings.TrimRight(s.Body, "\n"))
	}
	return b.String()
}

func renderRole(role string, skills []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s. You have deep expertise in:\n", role)
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\nYour work is characterized by attention to detail, clean outputs and adherence to specifications.")
	return b.String()
}

func renderBrief(spec model.TaskSpec) string {
	desc := truncateContext(spec.Description)
	if desc == "" {
		desc = "N/A"
	}
	return fmt.Sprintf("**Client Request**: %s\n\n**Context**: %s", strings.TrimSpace(spec.Title), desc)
}

func renderRequirements(spec model.TaskSpec) string {
	if len(spec.Requirements) == 0 {
		return "1. Complete the task as described."
	}
	lines := make([]string, 0, len(spec.Requirements))
	for i, r := range spec.Requirements {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, r.ID, normalizeRequirement(r.Text)))
	}
	return strings.Join(lines, "\n")
}

func renderDeliverables(spec model.TaskSpec) string {
	lines := make([]string, 0, len(spec.Deliverables))
	for i, d := range spec.Deliverables {
		line := fmt.Sprintf("%d. [%s] **%s**", i+1, d.ID, d.Name)
		if d.Format != "" {
			line += fmt.Sprintf(" (%s)", d.Format)
		}
		if d.Detail != "" {
			line += ": " + strings.TrimSpace(d.Detail)
		}
		switch ext := model.FormatExtension(d.Format); {
		case d.Filename != "":
			line += fmt.Sprintf(". Save it as `%s`.", d.Filename)
		case ext != "":
			line += fmt.Sprintf(". Save it as `<name>%s.%s` or `<name>%s.%s`.", model.OutputSuffix, ext, model.CleanedSuffix, ext)
		default:
			line += fmt.Sprintf(". Save it with a `%s` or `%s` suffix.", model.OutputSuffix, model.CleanedSuffix)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderConstraints(spec model.TaskSpec) string {
	var lines []string
	if b := spec.Budget; b.Amount > 0 {
		budget := fmt.Sprintf("- Budget: %.2f %s", b.Amount, strings.TrimSpace(b.Currency))
		if b.Type != "" {
			budget += fmt.Sprintf(" (%s)", b.Type)
		}
		lines = append(lines, budget)
	}
	if spec.Deadline != nil {
		lines = append(lines, fmt.Sprintf("- Deadline: %s", spec.Deadline.UTC().Format(time.RFC3339)))
	}
	for _, c := range spec.Constraints {
		if t := strings.TrimSpace(c.Text); t != "" {
			lines = append(lines, "- "+t)
		}
	}
	lines = append(lines,
		"- Maintain data integrity and accuracy.",
		"- Follow all specified requirements exactly.",
	)
	return strings.Join(lines, "\n")
}

func renderInputData(spec model.TaskSpec) string {
	if len(spec.InputData) == 0 {
		return "No input files are provided."
	}
	lines := make([]string, 0, len(spec.InputData))
	for _, in := range spec.InputData {
		line := fmt.Sprintf("- `%s`", in.Name)
		if in.Format != "" {
			line += fmt.Sprintf(" (%s)", in.Format)
		}
		if in.Description != "" {
			line += ": " + strings.TrimSpace(in.Description)
		}
		line += fmt.Sprintf(". Preserve it verbatim as `%s`.", model.InputFilename(in.Name))
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderCriteria(criteria []model.SuccessCriterion) string {
	lines := []string{"The task is complete when:"}
	for _, c := range criteria {
		line := fmt.Sprintf("- [ ] [%s] %s", c.ID, strings.TrimSpace(c.Text))
		if !c.Checkable {
			line += " (reviewed by judgment)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderNotes(p *policy.Policy, applied []model.AppliedDefault) string {
	lines := []string{fmt.Sprintf("Ambiguity resolutions (policy %s):", p.Version())}
	for _, a := range applied {
		source := "policy default"
		if a.Source == model.DefaultSourceExplicit {
			source = "client choice"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", a.Class, a.Value, source))
	}
	lines = append(lines,
		"",
		"- Quality bar: zero errors, complete adherence to the requirements.",
		"- Edge cases: handle missing data as resolved above and document any other assumption.",
		"- If blocked: document the issue and suggest alternatives.",
	)
	return strings.Join(lines, "\n")
}
