package amend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/app/amend"
	"github.com/slok/taskforge/internal/lifecycle/lifecyclemock"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/storage/storagemock"
)

func TestService_Run(t *testing.T) {
	spec := model.TaskSpec{Title: "Clean Instagram handles, shortest first", InputData: []model.InputDataRef{{Name: "handles.csv"}}}
	stored := &model.Task{ID: "t1", State: model.TaskStateRetrying, Inputs: map[string][]byte{"handles.csv": []byte("handle\na\n")}}

	tests := map[string]struct {
		mock    func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager)
		req     amend.Request
		expTask *model.Task
		expErr  error
	}{
		"amending with the same inputs should append the spec": {
			mock: func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager) {
				ms.On("GetTaskRequest", mock.Anything, "handles-v2.yaml").Once().Return(&storage.TaskRequest{Spec: spec, Inputs: map[string][]byte{"handles.csv": []byte("handle\na\n")}}, nil)
				mr.On("GetTask", mock.Anything, "t1").Once().Return(stored, nil)
				mm.On("Amend", mock.Anything, "t1", spec).Once().Return(&model.Task{ID: "t1", State: model.TaskStateDrafting}, nil)
			},
			req:     amend.Request{TaskID: "t1", SpecPath: "handles-v2.yaml"},
			expTask: &model.Task{ID: "t1", State: model.TaskStateDrafting},
		},
		"changed input content should fail": {
			mock: func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager) {
				ms.On("GetTaskRequest", mock.Anything, "handles-v2.yaml").Once().Return(&storage.TaskRequest{Spec: spec, Inputs: map[string][]byte{"handles.csv": []byte("handle\nb\n")}}, nil)
				mr.On("GetTask", mock.Anything, "t1").Once().Return(stored, nil)
			},
			req:    amend.Request{TaskID: "t1", SpecPath: "handles-v2.yaml"},
			expErr: model.ErrImmutable,
		},
		"new inputs should fail": {
			mock: func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager) {
				ms.On("GetTaskRequest", mock.Anything, "handles-v2.yaml").Once().Return(&storage.TaskRequest{Spec: spec, Inputs: map[string][]byte{"other.csv": []byte("x\n")}}, nil)
				mr.On("GetTask", mock.Anything, "t1").Once().Return(stored, nil)
			},
			req:    amend.Request{TaskID: "t1", SpecPath: "handles-v2.yaml"},
			expErr: model.ErrNotValid,
		},
		"missing task should fail": {
			mock: func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager) {
				ms.On("GetTaskRequest", mock.Anything, "handles-v2.yaml").Once().Return(&storage.TaskRequest{Spec: spec}, nil)
				mr.On("GetTask", mock.Anything, "t1").Once().Return(nil, model.ErrNotFound)
			},
			req:    amend.Request{TaskID: "t1", SpecPath: "handles-v2.yaml"},
			expErr: model.ErrNotFound,
		},
		"missing task id should fail": {
			mock: func(ms *storagemock.MockTaskSpecRepository, mr *storagemock.MockRepository, mm *lifecyclemock.MockManager) {
			},
			req:    amend.Request{SpecPath: "handles-v2.yaml"},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ms := storagemock.NewMockTaskSpecRepository(t)
			mr := storagemock.NewMockRepository(t)
			mm := lifecyclemock.NewMockManager(t)
			test.mock(ms, mr, mm)

			svc, err := amend.NewService(amend.ServiceConfig{SpecRepository: ms, Repository: mr, Manager: mm})
			require.NoError(err)

			task, err := svc.Run(context.Background(), test.req)

			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
			} else if assert.NoError(err) {
				assert.Equal(test.expTask, task)
			}
		})
	}
}
