package commands

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/taskforge/internal/conventions"
	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/verify"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	BlobBackendSQLite = "sqlite"
	BlobBackendMinIO  = "minio"

	ExecutorWebhook = "webhook"
	ExecutorFake    = "fake"

	SandboxDocker = "docker"
	SandboxLocal  = "local"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	DBPath     string
	PolicyPath string
	Trace      bool

	// Blob store.
	BlobBackend    string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOPrefix    string
	MinIORegion    string
	MinIOUseSSL    bool

	// Execution.
	Executor           string
	ExecutorURL        string
	ExecutorHeaders    map[string]string
	ExecutorTier       string
	FakeArtifactsDir   string
	MaxConcurrentExecs int64
	DispatchTimeout    time.Duration
	AcceptPartial      bool
	CostCapUSD         float64

	// Verification.
	Sandbox            string
	SandboxImage       string
	SandboxPython      string
	MaxConcurrentBoxes int64
	ScriptTimeout      time.Duration
	OpinionURL         string
	OpinionHeaders     map[string]string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory for the task store, escalated cases and traces.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("db-path", "Path to the SQLite database file (defaults inside the data dir).").StringVar(&c.DBPath)
	app.Flag("policy", "Ambiguity policy YAML file, the built-in v1 policy is used when missing.").StringVar(&c.PolicyPath)
	app.Flag("trace", "Export traces as JSON lines to the data dir.").BoolVar(&c.Trace)

	app.Flag("blob-backend", "Where artifact and input contents are stored.").Default(BlobBackendSQLite).EnumVar(&c.BlobBackend, BlobBackendSQLite, BlobBackendMinIO)
	app.Flag("minio-endpoint", "S3 compatible endpoint (host:port).").StringVar(&c.MinIOEndpoint)
	app.Flag("minio-access-key", "S3 access key.").StringVar(&c.MinIOAccessKey)
	app.Flag("minio-secret-key", "S3 secret key.").StringVar(&c.MinIOSecretKey)
	app.Flag("minio-bucket", "S3 bucket.").Default("taskforge").StringVar(&c.MinIOBucket)
	app.Flag("minio-prefix", "S3 object key prefix.").Default("blobs").StringVar(&c.MinIOPrefix)
	app.Flag("minio-region", "S3 region.").StringVar(&c.MinIORegion)
	app.Flag("minio-use-ssl", "Use TLS with the S3 endpoint.").BoolVar(&c.MinIOUseSSL)

	app.Flag("executor", "Executor adapter.").Default(ExecutorWebhook).EnumVar(&c.Executor, ExecutorWebhook, ExecutorFake)
	app.Flag("executor-url", "Webhook executor endpoint.").StringVar(&c.ExecutorURL)
	app.Flag("executor-header", "Header added to executor requests (repeatable).").PlaceHolder("KEY=VALUE").StringMapVar(&c.ExecutorHeaders)
	app.Flag("executor-tier", "Model tier used to price executor usage.").Default("medium").EnumVar(&c.ExecutorTier, "cheap", "medium", "expensive")
	app.Flag("fake-artifacts-dir", "Directory whose files the fake executor returns.").StringVar(&c.FakeArtifactsDir)
	app.Flag("max-concurrent-executions", "Executor capacity shared by all tasks.").Default("4").Int64Var(&c.MaxConcurrentExecs)
	app.Flag("dispatch-timeout", "Bound of a single executor call.").Default(dispatch.DefaultTimeout.String()).DurationVar(&c.DispatchTimeout)
	app.Flag("accept-partial", "Accept partial verdicts instead of retrying them.").BoolVar(&c.AcceptPartial)
	app.Flag("cost-cap-usd", "Abandon tasks whose executor cost reaches it (0 disables it).").Default("0").Float64Var(&c.CostCapUSD)

	app.Flag("sandbox", "Where reproducing scripts run.").Default(SandboxDocker).EnumVar(&c.Sandbox, SandboxDocker, SandboxLocal)
	app.Flag("sandbox-image", "Docker image with a python interpreter.").Default("python:3.12-slim").StringVar(&c.SandboxImage)
	app.Flag("sandbox-python", "Python interpreter of the local sandbox.").Default("python3").StringVar(&c.SandboxPython)
	app.Flag("max-concurrent-sandboxes", "Sandbox slots shared by all tasks.").Default("2").Int64Var(&c.MaxConcurrentBoxes)
	app.Flag("script-timeout", "Bound of a reproducing script run.").Default(verify.DefaultScriptTimeout.String()).DurationVar(&c.ScriptTimeout)
	app.Flag("opinion-url", "External opinion provider for judgment criteria.").StringVar(&c.OpinionURL)
	app.Flag("opinion-header", "Header added to opinion requests (repeatable).").PlaceHolder("KEY=VALUE").StringMapVar(&c.OpinionHeaders)

	return c
}

func (c RootCommand) dbPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return conventions.DBPath(c.DataDir)
}
