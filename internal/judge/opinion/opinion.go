package opinion

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/schema"
)

// Name is the judge name recorded on the criteria it evaluates.
const Name = "opinion"

//go:embed verdict.schema.json
var verdictSchema []byte

var verdictValidator = schema.MustNewValidator("opinion-verdict.json", verdictSchema)

const (
	maxVerdictBytes = 1 << 20
	// maxFileBytes bounds each produced file sent for review.
	maxFileBytes = 4 << 20
)

// JudgeConfig is the configuration of the opinion judge.
type JudgeConfig struct {
	// URL is the opinion provider endpoint verdict requests are POSTed to.
	URL        string
	HTTPClient *http.Client
	Headers    map[string]string
	// AllCriteria makes the judge support checkable criteria too, by default only judgment
	// criteria are supported.
	AllCriteria bool
	Logger      log.Logger
}

func (c *JudgeConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("url must be http or https")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "opinion.Judge"})
	return nil
}

// Judge asks an external opinion provider for a verdict on judgment criteria.
type Judge struct {
	url     string
	client  *http.Client
	headers map[string]string
	all     bool
	logger  log.Logger
}

// NewJudge returns a new opinion judge.
func NewJudge(cfg JudgeConfig) (*Judge, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Judge{
		url:     cfg.URL,
		client:  cfg.HTTPClient,
		headers: cfg.Headers,
		all:     cfg.AllCriteria,
		logger:  cfg.Logger,
	}, nil
}

var _ judge.Judge = &Judge{}

func (j *Judge) Name() string { return Name }

func (j *Judge) Supports(c model.SuccessCriterion) bool {
	return j.all || !c.Checkable
}

type requestPayload struct {
	CriterionID string `json:"criterion_id"`
	Criterion   string `json:"criterion"`
	TaskTitle   string `json:"task_title"`
	Deliverable string `json:"deliverable,omitempty"`
	// Files are the produced output files, bytes are base64 encoded.
	Files map[string][]byte `json:"files"`
	// Defaulted are the ambiguity classes the client didn't state, resolved by the policy.
	// Providers should be lenient on them.
	Defaulted []model.AppliedDefault `json:"defaulted"`
	Explicit  []model.AppliedDefault `json:"explicit"`
}

type verdictPayload struct {
	Status   model.CriterionStatus `json:"status"`
	Evidence string                `json:"evidence"`
}

func (j *Judge) Judge(ctx context.Context, in judge.Input) (*judge.Verdict, error) {
	p := requestPayload{
		CriterionID: in.Criterion.ID,
		Criterion:   in.Criterion.Text,
		TaskTitle:   in.Spec.Title,
		Files:       map[string][]byte{},
		Defaulted:   []model.AppliedDefault{},
		Explicit:    []model.AppliedDefault{},
	}
	if d, ok := in.Deliverable(); ok {
		p.Deliverable = d.Name
	}
	for _, n := range in.FileNames() {
		if model.ClassifyArtifact(n) != model.ArtifactKindOutput {
			continue
		}
		b := in.Files[n]
		if len(b) > maxFileBytes {
			j.logger.Warningf("Skipping %s from review, %d bytes exceeds the limit", n, len(b))
			continue
		}
		p.Files[n] = b
	}
	for _, r := range in.Resolutions {
		if r.Source == model.DefaultSourceExplicit {
			p.Explicit = append(p.Explicit, r)
			continue
		}
		p.Defaulted = append(p.Defaulted, r)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range j.headers {
		req.Header.Set(k, v)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opinion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVerdictBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read opinion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("opinion provider returned status %d", resp.StatusCode)
	}
	if err := verdictValidator.Validate(data); err != nil {
		return nil, fmt.Errorf("invalid opinion response: %w", err)
	}
	var v verdictPayload
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("could not unmarshal opinion response: %w", err)
	}

	j.logger.Debugf("Criterion %s judged %s", in.Criterion.ID, v.Status)
	return &judge.Verdict{Status: v.Status, Evidence: strings.TrimSpace(v.Evidence)}, nil
}
