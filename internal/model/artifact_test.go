package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/model"
)

func TestClassifyArtifact(t *testing.T) {
	tests := map[string]struct {
		name string
		exp  model.ArtifactKind
	}{
		"The reproducing script should be classified as script": {name: "execute.py", exp: model.ArtifactKindScript},
		"Another python file should not be a script":            {name: "main.py", exp: model.ArtifactKindOther},
		"Input prefixed files should be inputs":                 {name: "input_handles.csv", exp: model.ArtifactKindInput},
		"Raw prefixed files should be raw":                      {name: "raw_api.json", exp: model.ArtifactKindRaw},
		"Output suffixed files should be outputs":               {name: "sales_output.png", exp: model.ArtifactKindOutput},
		"Cleaned suffixed files should be outputs":              {name: "handles_cleaned.csv", exp: model.ArtifactKindOutput},
		"Suffix in the middle of the name should not count":     {name: "handles_cleaned_v2.csv", exp: model.ArtifactKindOther},
		"Notes should be other":                                 {name: "notes.md", exp: model.ArtifactKindOther},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, model.ClassifyArtifact(test.name))
		})
	}
}

func TestInputFilename(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("input_handles.csv", model.InputFilename("handles.csv"))
	assert.Equal("input_handles.csv", model.InputFilename("input_handles.csv"))
}

func TestArtifactSetManifestIsSorted(t *testing.T) {
	assert := assert.New(t)

	set := model.ArtifactSet{Files: map[string][]byte{
		"z_output.csv": []byte("z"),
		"execute.py":   []byte("print(1)"),
		"input_a.csv":  []byte("a"),
	}}

	m := set.Manifest()
	assert.Len(m, 3)
	assert.Equal("execute.py", m[0].Name)
	assert.Equal("input_a.csv", m[1].Name)
	assert.Equal("z_output.csv", m[2].Name)
	assert.Equal(model.ContentHash([]byte("a")), m[1].SHA256)
	assert.Equal([]string{"z_output.csv"}, set.NamesOf(model.ArtifactKindOutput))
}

func TestDeliverableFile(t *testing.T) {
	tests := map[string]struct {
		d       model.Deliverable
		names   []string
		single  bool
		expName string
		expOK   bool
	}{
		"A pinned filename should be resolved as is": {
			d:       model.Deliverable{ID: "d1", Format: "csv", Filename: "final.csv"},
			names:   []string{"a_output.csv", "final.csv"},
			expName: "final.csv",
			expOK:   true,
		},
		"A missing pinned filename should not resolve": {
			d:     model.Deliverable{ID: "d1", Format: "csv", Filename: "final.csv"},
			names: []string{"a_output.csv"},
		},
		"Outputs should be matched by the format extension": {
			d:       model.Deliverable{ID: "d1", Format: "CSV"},
			names:   []string{"chart_output.png", "handles_cleaned.csv", "input_handles.csv"},
			expName: "handles_cleaned.csv",
			expOK:   true,
		},
		"The output named after the deliverable should win": {
			d:       model.Deliverable{ID: "d2", Name: "Sales report", Format: "csv"},
			names:   []string{"a_output.csv", "sales_report_output.csv"},
			expName: "sales_report_output.csv",
			expOK:   true,
		},
		"Non output files should never resolve": {
			d:     model.Deliverable{ID: "d1", Format: "csv"},
			names: []string{"input_a.csv", "raw_a.csv", "notes.csv"},
		},
		"A format without extension should match any output of a single deliverable spec": {
			d:       model.Deliverable{ID: "d1", Format: "spreadsheet file"},
			names:   []string{"b_output.xlsx", "a_output.xlsx"},
			single:  true,
			expName: "a_output.xlsx",
			expOK:   true,
		},
		"A format without extension should not resolve on multi deliverable specs": {
			d:     model.Deliverable{ID: "d1", Format: "spreadsheet file"},
			names: []string{"a_output.xlsx"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			gotName, gotOK := model.DeliverableFile(test.d, test.names, test.single)
			assert.Equal(test.expOK, gotOK)
			assert.Equal(test.expName, gotName)
		})
	}
}
