package taskforge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/slok/taskforge/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	Python string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "taskforge"
	}

	// go test changes the CWD to the test package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("TASKFORGE_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("taskforge binary not found at %q: %w", c.Binary, err)
	}

	if c.Python == "" {
		c.Python = "python3"
	}
	if _, err := exec.LookPath(c.Python); err != nil {
		return fmt.Errorf("python interpreter %q not found: %w", c.Python, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "TASKFORGE_INTEGRATION"
		envBinary     = "TASKFORGE_INTEGRATION_BINARY"
		envPython     = "TASKFORGE_INTEGRATION_PYTHON"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
		Python: os.Getenv(envPython),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs a taskforge command against an isolated data dir, with the fake executor
// answering the files of artifactsDir and scripts reproduced by a local python.
func RunCmd(ctx context.Context, config Config, dataDir, artifactsDir string, args ...string) (stdout, stderr []byte, err error) {
	global := []string{
		"--data-dir", dataDir,
		"--executor", "fake",
		"--sandbox", "local",
		"--sandbox-python", config.Python,
	}
	if artifactsDir != "" {
		global = append(global, "--fake-artifacts-dir", artifactsDir)
	}

	res, err := testutils.RunCmd(ctx, testutils.CmdOpts{
		Binary: config.Binary,
		Args:   append(global, args...),
		NoLog:  true,
	})
	if res == nil {
		return nil, nil, err
	}
	return res.Stdout, res.Stderr, err
}
