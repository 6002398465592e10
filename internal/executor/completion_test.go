package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/model"
)

func TestParseCompletion(t *testing.T) {
	tests := map[string]struct {
		text     string
		expFiles map[string][]byte
		expRef   bool
		expErr   bool
	}{
		"A fenced JSON block should be used": {
			text: "Here you go:\n```json\n{\"execute_script\": \"print(1)\", \"files\": {\"a_output.csv\": \"x\\n\"}}\n```\n",
			expFiles: map[string][]byte{
				"execute.py":   []byte("print(1)"),
				"a_output.csv": []byte("x\n"),
			},
		},

		"Trailing commas in JSON should be tolerated": {
			text: "```json\n{\"execute_script\": \"print(1)\",}\n```",
			expFiles: map[string][]byte{
				"execute.py": []byte("print(1)"),
			},
		},

		"A bare JSON object should be used when there are no fences": {
			text: "Result: {\"execute_script\": \"print('{}')\"} done",
			expFiles: map[string][]byte{
				"execute.py": []byte("print('{}')"),
			},
		},

		"The largest python block should be the script when there is no JSON": {
			text: "First:\n```python\nprint(1)\n```\nThen the real one:\n```python\nimport csv\nprint(2)\n```\n",
			expFiles: map[string][]byte{
				"execute.py": []byte("import csv\nprint(2)\n"),
			},
		},

		"A refusal document should be returned as is": {
			text:     "```json\n{\"refused\": true, \"refusal_reason\": \"out of scope\"}\n```",
			expFiles: map[string][]byte{},
			expRef:   true,
		},

		"An answer without artifacts should fail": {
			text:   "Sorry, I can't see any file.",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			c, err := executor.ParseCompletion(test.text)

			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			require.NoError(err)
			assert.Equal(test.expRef, c.Refused)
			assert.Equal(test.expFiles, c.Artifacts())
		})
	}
}
