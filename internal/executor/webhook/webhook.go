package webhook

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/schema"
)

//go:embed response.schema.json
var responseSchema []byte

var responseValidator = schema.MustNewValidator("executor-response.json", responseSchema)

const maxResponseBytes = 64 << 20

// ExecutorConfig is the configuration of the webhook executor.
type ExecutorConfig struct {
	// URL is the endpoint requests are POSTed to.
	URL        string
	HTTPClient *http.Client
	// Headers are added to every request (e.g. authorization).
	Headers map[string]string
	// Tier is the model tier used for usage without an explicit tier.
	Tier   model.ModelTier
	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("url must be http or https")
	}
	if c.HTTPClient == nil {
		// Timeouts are owned by the dispatch context.
		c.HTTPClient = &http.Client{}
	}
	if c.Tier == "" {
		c.Tier = model.ModelTierMedium
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Webhook"})
	return nil
}

// Executor sends execution requests to an HTTP endpoint.
type Executor struct {
	url     string
	client  *http.Client
	headers map[string]string
	tier    model.ModelTier
	logger  log.Logger
}

// NewExecutor returns a new webhook executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		url:     cfg.URL,
		client:  cfg.HTTPClient,
		headers: cfg.Headers,
		tier:    cfg.Tier,
		logger:  cfg.Logger,
	}, nil
}

type requestPayload struct {
	RunID   string            `json:"run_id"`
	TaskID  string            `json:"task_id"`
	Attempt int               `json:"attempt"`
	Prompt  string            `json:"prompt"`
	Inputs  map[string][]byte `json:"inputs"`
}

type responsePayload struct {
	RunID         string            `json:"run_id"`
	Files         map[string]string `json:"files"`
	FilesBase64   map[string]string `json:"files_base64"`
	Text          string            `json:"text"`
	Refused       bool              `json:"refused"`
	RefusalReason string            `json:"refusal_reason"`
	Usage         model.Usage       `json:"usage"`
}

// Execute satisfies executor.Executor interface.
func (e *Executor) Execute(ctx context.Context, r executor.Request) (*executor.Response, error) {
	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := e.logger.WithValues(log.Kv{"run-id": runID, "task-id": r.TaskID, "attempt": r.AttemptNumber})

	body, err := json.Marshal(requestPayload{
		RunID:   runID,
		TaskID:  r.TaskID,
		Attempt: r.AttemptNumber,
		Prompt:  r.Prompt,
		Inputs:  r.Inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	logger.Debugf("Sending execution request")
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read executor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("executor returned status %d: %s", resp.StatusCode, snippet(data))
	}

	if err := responseValidator.Validate(data); err != nil {
		return nil, fmt.Errorf("invalid executor response: %w", err)
	}
	var p responsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("could not unmarshal executor response: %w", err)
	}

	res, err := e.toResponse(runID, p)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Executor returned %d files", len(res.Files))

	return res, nil
}

func (e *Executor) toResponse(runID string, p responsePayload) (*executor.Response, error) {
	if p.RunID != "" {
		runID = p.RunID
	}
	usage := p.Usage
	if usage.Tier == "" {
		usage.Tier = e.tier
	}
	res := &executor.Response{RunID: runID, Usage: usage, Files: map[string][]byte{}}

	if p.Refused {
		res.Refused = true
		res.RefusalReason = p.RefusalReason
		return res, nil
	}

	for name, content := range p.Files {
		res.Files[name] = []byte(content)
	}
	for name, content := range p.FilesBase64 {
		b, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("file %q is not valid base64: %w", name, model.ErrNotValid)
		}
		res.Files[name] = b
	}

	if len(res.Files) == 0 && p.Text != "" {
		c, err := executor.ParseCompletion(p.Text)
		if err != nil {
			return nil, fmt.Errorf("could not extract artifacts from executor text: %w", err)
		}
		if c.Refused {
			res.Refused = true
			res.RefusalReason = c.RefusalReason
			return res, nil
		}
		res.Files = c.Artifacts()
	}

	return res, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
