package model

import "fmt"

// SectionName is the heading of an execution prompt section. Downstream consumers rely
// on these names.
type SectionName string

const (
	SectionRoleAssignment   SectionName = "Role Assignment"
	SectionProjectBrief     SectionName = "Project Brief"
	SectionRequirements     SectionName = "Requirements"
	SectionDeliverables     SectionName = "Deliverables"
	SectionConstraints      SectionName = "Constraints"
	SectionInputData        SectionName = "Input Data"
	SectionSuccessCriteria  SectionName = "Success Criteria"
	SectionExecutionNotes   SectionName = "Execution Notes"
	SectionArtifactContract SectionName = "Artifact Contract"
	// SectionRetryFeedback is only present on retry prompts, always after the contract.
	SectionRetryFeedback SectionName = "Retry Feedback"
)

// PromptSections is the fixed section order of every execution prompt.
var PromptSections = []SectionName{
	SectionRoleAssignment,
	SectionProjectBrief,
	SectionRequirements,
	SectionDeliverables,
	SectionConstraints,
	SectionInputData,
	SectionSuccessCriteria,
	SectionExecutionNotes,
	SectionArtifactContract,
}

// Section is a single rendered prompt section.
type Section struct {
	Name SectionName `json:"name"`
	Body string      `json:"body"`
}

// DefaultSource tells where an ambiguity resolution comes from.
type DefaultSource string

const (
	// DefaultSourcePolicy means the client said nothing and the policy default was injected.
	DefaultSourcePolicy DefaultSource = "default"
	// DefaultSourceExplicit means the client stated the choice.
	DefaultSourceExplicit DefaultSource = "explicit"
)

// AppliedDefault records how an ambiguity class was resolved for a compilation.
type AppliedDefault struct {
	Class  AmbiguityClass `json:"class"`
	Value  string         `json:"value"`
	Source DefaultSource  `json:"source"`
}

// ExecutionPrompt is the compiled, self-contained instruction document sent to the executor.
type ExecutionPrompt struct {
	SpecVersion     int              `json:"spec_version"`
	PolicyVersion   string           `json:"policy_version"`
	Role            string           `json:"role"`
	Sections        []Section        `json:"sections"`
	AppliedDefaults []AppliedDefault `json:"applied_defaults"`
	// Criteria are the effective criteria, including the synthesized ones.
	Criteria []SuccessCriterion `json:"criteria"`
	Text     string             `json:"text"`
	Digest   string             `json:"digest"`
}

// Section returns the named section.
func (p ExecutionPrompt) Section(name SectionName) (Section, bool) {
	for _, s := range p.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Resolution returns how an ambiguity class was resolved.
func (p ExecutionPrompt) Resolution(class AmbiguityClass) (AppliedDefault, bool) {
	for _, d := range p.AppliedDefaults {
		if d.Class == class {
			return d, true
		}
	}
	return AppliedDefault{}, false
}

// Version identifies the prompt by the inputs it was compiled from plus its content digest.
func (p ExecutionPrompt) Version() string {
	digest := p.Digest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	return fmt.Sprintf("spec-v%d/policy-%s/%s", p.SpecVersion, p.PolicyVersion, digest)
}
