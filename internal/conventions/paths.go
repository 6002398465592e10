package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default taskforge data directory name (relative to home).
	DefaultDataDir = ".taskforge"
	// DBFile is the SQLite task store filename.
	DBFile = "taskforge.db"
	// EscalationsDir is the subdirectory escalated task cases are written to.
	EscalationsDir = "escalations"
	// TracesFile is the file traces are exported to when tracing is enabled.
	TracesFile = "traces.jsonl"
	// PolicyFile is the optional policy override file.
	PolicyFile = "policy.yaml"

	// EnvPrefix prefixes the environment variables of the CLI flags.
	EnvPrefix = "TASKFORGE"
)

// DBPath returns the task store path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// EscalationsPath returns the escalated cases directory inside a data directory.
func EscalationsPath(dataDir string) string {
	return filepath.Join(dataDir, EscalationsDir)
}

// TracesPath returns the traces file inside a data directory.
func TracesPath(dataDir string) string {
	return filepath.Join(dataDir, TracesFile)
}
