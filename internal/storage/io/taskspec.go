package io

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/schema"
	"github.com/slok/taskforge/internal/storage"
)

//go:embed taskspec.schema.json
var taskSpecSchema []byte

var taskSpecValidator = schema.MustNewValidator("taskspec.schema.json", taskSpecSchema)

var _ storage.TaskSpecRepository = &TaskSpecRepository{}

// TaskSpecRepository loads task specs from YAML or JSON files.
type TaskSpecRepository struct {
	fs fs.FS
}

// NewTaskSpecRepository creates a new task spec repository. Input paths are resolved
// relative to the spec file inside the same filesystem.
func NewTaskSpecRepository(filesystem fs.FS) *TaskSpecRepository {
	return &TaskSpecRepository{fs: filesystem}
}

// GetTaskRequest loads, validates and converts a task spec file.
func (r *TaskSpecRepository) GetTaskRequest(ctx context.Context, specPath string) (*storage.TaskRequest, error) {
	data, err := fs.ReadFile(r.fs, specPath)
	if err != nil {
		return nil, fmt.Errorf("reading task spec file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	doc, err := DecodeTaskSpec(data)
	if err != nil {
		return nil, err
	}

	req, err := doc.TaskRequest()
	if err != nil {
		return nil, err
	}

	dir := path.Dir(specPath)
	for _, in := range doc.InputData {
		if in.Path == "" {
			continue
		}
		p := path.Join(dir, in.Path)
		if !fs.ValidPath(p) {
			return nil, fmt.Errorf("input %q path %q escapes the spec directory: %w", in.Name, in.Path, model.ErrNotValid)
		}
		b, err := fs.ReadFile(r.fs, p)
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", in.Name, err)
		}
		if req.Inputs == nil {
			req.Inputs = map[string][]byte{}
		}
		req.Inputs[in.Name] = b
	}

	return req, nil
}

// DecodeTaskSpec decodes a YAML or JSON task spec document and validates it against the
// task spec JSON Schema.
func DecodeTaskSpec(data []byte) (*TaskSpecDoc, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w: %w", err, model.ErrNotValid)
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w: %w", err, model.ErrNotValid)
	}
	if err := taskSpecValidator.Validate(js); err != nil {
		return nil, err
	}

	var doc TaskSpecDoc
	if err := json.Unmarshal(js, &doc); err != nil {
		return nil, fmt.Errorf("decoding task spec: %w: %w", err, model.ErrNotValid)
	}

	return &doc, nil
}

// TaskSpecDoc is the file representation of a task spec.
type TaskSpecDoc struct {
	Title            string                          `json:"title"`
	Description      string                          `json:"description"`
	MaxRetries       int                             `json:"max_retries"`
	Requirements     []model.Requirement             `json:"requirements"`
	Deliverables     []model.Deliverable             `json:"deliverables"`
	Constraints      []ConstraintDoc                 `json:"constraints"`
	InputData        []InputDataDoc                  `json:"input_data"`
	SuccessCriteria  []model.SuccessCriterion        `json:"success_criteria"`
	Budget           model.Budget                    `json:"budget"`
	Deadline         string                          `json:"deadline"`
	AmbiguityChoices map[model.AmbiguityClass]string `json:"ambiguity_choices"`
}

// ConstraintDoc accepts a constraint as a plain string or as an object with text.
type ConstraintDoc struct {
	Text string `json:"text"`
}

func (c *ConstraintDoc) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.Text = s
		return nil
	}

	type plain ConstraintDoc
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = ConstraintDoc(p)
	return nil
}

// InputDataDoc is an input data reference with the optional path of its content.
type InputDataDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Path        string `json:"path"`
}

// TaskRequest converts the document into a task request without input contents.
func (d TaskSpecDoc) TaskRequest() (*storage.TaskRequest, error) {
	spec, err := d.toModel()
	if err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}
	return &storage.TaskRequest{Spec: spec, MaxRetries: d.MaxRetries}, nil
}

var deadlineLayouts = []string{time.RFC3339, "2006-01-02"}

func (d TaskSpecDoc) toModel() (model.TaskSpec, error) {
	spec := model.TaskSpec{
		Title:            d.Title,
		Description:      d.Description,
		Requirements:     d.Requirements,
		Deliverables:     d.Deliverables,
		SuccessCriteria:  d.SuccessCriteria,
		Budget:           d.Budget,
		AmbiguityChoices: d.AmbiguityChoices,
	}
	for _, c := range d.Constraints {
		spec.Constraints = append(spec.Constraints, model.Constraint{Text: c.Text})
	}
	for _, in := range d.InputData {
		spec.InputData = append(spec.InputData, model.InputDataRef{Name: in.Name, Description: in.Description, Format: in.Format})
	}

	if d.Deadline != "" {
		var parsed bool
		for _, layout := range deadlineLayouts {
			t, err := time.Parse(layout, d.Deadline)
			if err == nil {
				t = t.UTC()
				spec.Deadline = &t
				parsed = true
				break
			}
		}
		if !parsed {
			return model.TaskSpec{}, fmt.Errorf("deadline %q is not a date or RFC3339 time: %w", d.Deadline, model.ErrNotValid)
		}
	}

	if err := spec.Validate(); err != nil {
		return model.TaskSpec{}, err
	}

	return spec, nil
}
