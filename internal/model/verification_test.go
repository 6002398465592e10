package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/model"
)

func TestDeriveOverall(t *testing.T) {
	pass := model.CriterionResult{CriterionID: "c1", Status: model.CriterionStatusPass}
	fail := model.CriterionResult{CriterionID: "c2", Status: model.CriterionStatusFail}
	unknown := model.CriterionResult{CriterionID: "c3", Status: model.CriterionStatusUnknown}

	tests := map[string]struct {
		scriptFailed bool
		missing      int
		inputsIntact bool
		criteria     []model.CriterionResult
		exp          model.OverallStatus
	}{
		"All criteria passing should pass": {
			inputsIntact: true,
			criteria:     []model.CriterionResult{pass},
			exp:          model.OverallStatusPass,
		},

		"A failing criterion should be partial": {
			inputsIntact: true,
			criteria:     []model.CriterionResult{pass, fail},
			exp:          model.OverallStatusPartial,
		},

		"An unknown criterion should be partial, never pass": {
			inputsIntact: true,
			criteria:     []model.CriterionResult{pass, unknown},
			exp:          model.OverallStatusPartial,
		},

		"A script error should fail even if criteria pass": {
			scriptFailed: true,
			inputsIntact: true,
			criteria:     []model.CriterionResult{pass},
			exp:          model.OverallStatusFail,
		},

		"A missing deliverable should fail": {
			missing:      1,
			inputsIntact: true,
			criteria:     []model.CriterionResult{pass},
			exp:          model.OverallStatusFail,
		},

		"Altered inputs should fail": {
			inputsIntact: false,
			criteria:     []model.CriterionResult{pass},
			exp:          model.OverallStatusFail,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := model.DeriveOverall(test.scriptFailed, test.missing, test.inputsIntact, test.criteria)
			assert.Equal(t, test.exp, got)
		})
	}
}
