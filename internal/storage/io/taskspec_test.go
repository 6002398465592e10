package io_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
	storageio "github.com/slok/taskforge/internal/storage/io"
)

const handlesYAML = `
title: Clean Instagram handles
description: Normalize a CSV of handles.
max_retries: 2
requirements:
  - id: r1
    text: Please prefix every handle with @
  - id: r2
    text: Remove duplicated handles
deliverables:
  - id: d1
    name: Cleaned handles
    format: csv
constraints:
  - Keep the original column names
  - text: Python 3 only
input_data:
  - name: handles.csv
    format: csv
    path: data/handles.csv
success_criteria:
  - id: c1
    text: All Column A values start with @
    checkable: true
  - id: c2
    text: No duplicated rows
    checkable: true
    check:
      kind: no_duplicates
budget:
  amount: 50
  currency: USD
  type: fixed
deadline: 2026-04-01
ambiguity_choices:
  text_encoding: latin-1
`

func TestTaskSpecRepositoryGetTaskRequest(t *testing.T) {
	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expReq *storage.TaskRequest
		expErr error
	}{
		"A YAML spec should load with its inputs.": {
			fs: fstest.MapFS{
				"spec/task.yaml":            &fstest.MapFile{Data: []byte(handlesYAML)},
				"spec/data/handles.csv":     &fstest.MapFile{Data: []byte("handle\nbob\n")},
				"spec/data/not-used-at.all": &fstest.MapFile{Data: []byte("x")},
			},
			path: "spec/task.yaml",
			expReq: &storage.TaskRequest{
				MaxRetries: 2,
				Inputs:     map[string][]byte{"handles.csv": []byte("handle\nbob\n")},
				Spec: model.TaskSpec{
					Title:       "Clean Instagram handles",
					Description: "Normalize a CSV of handles.",
					Requirements: []model.Requirement{
						{ID: "r1", Text: "Please prefix every handle with @"},
						{ID: "r2", Text: "Remove duplicated handles"},
					},
					Deliverables: []model.Deliverable{{ID: "d1", Name: "Cleaned handles", Format: "csv"}},
					Constraints:  []model.Constraint{{Text: "Keep the original column names"}, {Text: "Python 3 only"}},
					InputData:    []model.InputDataRef{{Name: "handles.csv", Format: "csv"}},
					SuccessCriteria: []model.SuccessCriterion{
						{ID: "c1", Text: "All Column A values start with @", Checkable: true},
						{ID: "c2", Text: "No duplicated rows", Checkable: true, Check: &model.Check{Kind: model.CheckKindNoDuplicates}},
					},
					Budget:           model.Budget{Amount: 50, Currency: "USD", Type: model.BudgetTypeFixed},
					Deadline:         &deadline,
					AmbiguityChoices: map[model.AmbiguityClass]string{model.AmbiguityTextEncoding: "latin-1"},
				},
			},
		},

		"A JSON spec should load.": {
			fs: fstest.MapFS{
				"task.json": &fstest.MapFile{Data: []byte(`{"title": "T", "deliverables": [{"id": "d1", "name": "Report", "format": "pdf"}]}`)},
			},
			path: "task.json",
			expReq: &storage.TaskRequest{
				Spec: model.TaskSpec{
					Title:        "T",
					Deliverables: []model.Deliverable{{ID: "d1", Name: "Report", Format: "pdf"}},
				},
			},
		},

		"A spec without title should load, completeness is checked on compilation.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("description: only a description\n")},
			},
			path: "task.yaml",
			expReq: &storage.TaskRequest{
				Spec: model.TaskSpec{Description: "only a description"},
			},
		},

		"An unknown field should fail the schema.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: T\nbudgett: 5\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},

		"An unknown budget type should fail.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: T\nbudget: {amount: 5, type: monthly}\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},

		"An unknown ambiguity class should fail.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: T\nambiguity_choices: {timezone: UTC}\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},

		"Duplicated ids should fail.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: T\nrequirements: [{id: r1, text: a}, {id: r1, text: b}]\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},

		"A malformed deadline should fail.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: T\ndeadline: next friday\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},

		"An input path escaping the spec directory should fail.": {
			fs: fstest.MapFS{
				"spec/task.yaml": &fstest.MapFile{Data: []byte("title: T\ninput_data: [{name: a.csv, path: ../../a.csv}]\n")},
			},
			path:   "spec/task.yaml",
			expErr: model.ErrNotValid,
		},

		"Invalid YAML should fail.": {
			fs: fstest.MapFS{
				"task.yaml": &fstest.MapFile{Data: []byte("title: [\n")},
			},
			path:   "task.yaml",
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := storageio.NewTaskSpecRepository(test.fs)
			req, err := repo.GetTaskRequest(context.Background(), test.path)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)
			assert.Equal(test.expReq, req)
		})
	}
}

func TestTaskSpecRepositoryMissingFile(t *testing.T) {
	repo := storageio.NewTaskSpecRepository(fstest.MapFS{})
	_, err := repo.GetTaskRequest(context.Background(), "missing.yaml")
	assert.Error(t, err)
}

func TestTaskSpecRepositoryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := storageio.NewTaskSpecRepository(fstest.MapFS{
		"task.yaml": &fstest.MapFile{Data: []byte("title: T\n")},
	})
	_, err := repo.GetTaskRequest(ctx, "task.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}
