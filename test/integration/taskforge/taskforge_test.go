package taskforge_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inttf "github.com/slok/taskforge/test/integration/taskforge"
)

const handlesSpec = `
title: Clean Instagram handles
description: Prefix the handles with @ and drop the duplicated ones.
max_retries: 2
requirements:
  - id: r1
    text: Prefix every handle with @
deliverables:
  - id: d1
    name: Cleaned handles
    format: csv
    filename: handles_cleaned.csv
input_data:
  - name: handles.csv
    format: csv
    path: handles.csv
success_criteria:
  - id: c1
    text: Every handle starts with @
    checkable: true
    check:
      kind: prefix
      column: handle
      value: "@"
  - id: c2
    text: No duplicated rows
    checkable: true
    check:
      kind: no_duplicates
`

const cleanScript = `import csv

with open("handles.csv", newline="") as f:
    rows = list(csv.reader(f))

seen = set()
with open("handles_cleaned.csv", "w", newline="") as f:
    w = csv.writer(f, lineterminator="\n")
    w.writerow(rows[0])
    for row in rows[1:]:
        handle = "@" + row[0].lstrip("@")
        if handle in seen:
            continue
        seen.add(handle)
        w.writerow([handle])
`

// taskOutput matches the JSON output of `taskforge history --format json`.
type taskOutput struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Attempts []struct {
		Number       int    `json:"number"`
		Status       string `json:"status"`
		Verification *struct {
			Overall string `json:"overall"`
		} `json:"verification"`
	} `json:"attempts"`
}

// listItem matches the JSON output of `taskforge list --format json`.
type listItem struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

const handlesInput = "handle\nalice\n@bob\nalice\n"

// writeFixtures writes the spec with its input and the executor answer, returns the spec
// path and the artifacts dir.
func writeFixtures(t *testing.T, script string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	specPath := filepath.Join(dir, "spec.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(handlesSpec), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handles.csv"), []byte(handlesInput), 0o644))

	artifactsDir := filepath.Join(dir, "artifacts")
	require.NoError(t, os.MkdirAll(artifactsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "execute.py"), []byte(script), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "handles_cleaned.csv"), []byte("handle\n@alice\n@bob\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "input_handles.csv"), []byte(handlesInput), 0o644))

	return specPath, artifactsDir
}

func TestSubmitAndRunAcceptsReproducedDeliverable(t *testing.T) {
	config := inttf.NewConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataDir := t.TempDir()
	specPath, artifactsDir := writeFixtures(t, cleanScript)

	stdout, stderr, err := inttf.RunCmd(ctx, config, dataDir, artifactsDir, "submit", specPath, "--run", "--format", "json")
	require.NoError(t, err, "stderr: %s", stderr)

	var task taskOutput
	require.NoError(t, json.Unmarshal(stdout, &task))
	assert.Equal(t, "accepted", task.State)
	require.Len(t, task.Attempts, 1)
	require.NotNil(t, task.Attempts[0].Verification)
	assert.Equal(t, "pass", task.Attempts[0].Verification.Overall)

	stdout, stderr, err = inttf.RunCmd(ctx, config, dataDir, "", "list", "--format", "json")
	require.NoError(t, err, "stderr: %s", stderr)
	var items []listItem
	require.NoError(t, json.Unmarshal(stdout, &items))
	require.Len(t, items, 1)
	assert.Equal(t, task.ID, items[0].ID)
}

func TestVerifyFailsWhenTheScriptFails(t *testing.T) {
	config := inttf.NewConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataDir := t.TempDir()
	specPath, artifactsDir := writeFixtures(t, "raise SystemExit(3)\n")

	stdout, _, err := inttf.RunCmd(ctx, config, dataDir, "", "verify", specPath, artifactsDir, "--format", "json")
	assert.Error(t, err)

	var res struct {
		Overall        string `json:"overall"`
		ScriptExitCode int    `json:"script_exit_code"`
	}
	require.NoError(t, json.Unmarshal(stdout, &res))
	assert.Equal(t, "fail", res.Overall)
	assert.Equal(t, 3, res.ScriptExitCode)
}

func TestCancelSubmittedTask(t *testing.T) {
	config := inttf.NewConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dataDir := t.TempDir()
	specPath, _ := writeFixtures(t, cleanScript)

	stdout, stderr, err := inttf.RunCmd(ctx, config, dataDir, "", "submit", specPath, "--format", "json")
	require.NoError(t, err, "stderr: %s", stderr)
	var task taskOutput
	require.NoError(t, json.Unmarshal(stdout, &task))
	assert.Equal(t, "drafting", task.State)

	_, stderr, err = inttf.RunCmd(ctx, config, dataDir, "", "cancel", task.ID, "--reason", "duplicated request")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err = inttf.RunCmd(ctx, config, dataDir, "", "list", "--state", "abandoned", "--format", "json")
	require.NoError(t, err, "stderr: %s", stderr)
	var items []listItem
	require.NoError(t, json.Unmarshal(stdout, &items))
	require.Len(t, items, 1)
	assert.Equal(t, task.ID, items[0].ID)

	_, _, err = inttf.RunCmd(ctx, config, dataDir, "", "cancel", task.ID)
	assert.Error(t, err)
}
