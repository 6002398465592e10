package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

// Completion is the structured document an executor may embed in a free text answer.
type Completion struct {
	ExecuteScript string            `json:"execute_script"`
	Files         map[string]string `json:"files"`
	Approach      string            `json:"approach"`
	Notes         string            `json:"notes"`
	Refused       bool              `json:"refused"`
	RefusalReason string            `json:"refusal_reason"`
}

// Artifacts returns the completion files, the script goes as the reproducing script.
func (c Completion) Artifacts() map[string][]byte {
	files := make(map[string][]byte, len(c.Files)+1)
	for name, content := range c.Files {
		files[name] = []byte(content)
	}
	if strings.TrimSpace(c.ExecuteScript) != "" {
		files[model.ScriptFilename] = []byte(c.ExecuteScript)
	}
	return files
}

var (
	fencedJSONRe   = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\\n(.*?)\\n```")
	fencedPythonRe = regexp.MustCompile("(?s)```(?:python|py)?[ \\t]*\\n(.*?)\\n```")
	trailingObjRe  = regexp.MustCompile(`,\s*}`)
	trailingArrRe  = regexp.MustCompile(`,\s*]`)
)

// ParseCompletion extracts a completion from a free text executor answer. It tries fenced
// JSON blocks first, then the first balanced JSON object, and as a last resort uses the
// largest fenced Python block as the reproducing script.
func ParseCompletion(text string) (*Completion, error) {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		if c, ok := decodeCompletion(m[1]); ok {
			return c, nil
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		candidate := extractBalanced(text[i:])
		if candidate == "" {
			continue
		}
		if c, ok := decodeCompletion(candidate); ok {
			return c, nil
		}
	}

	largest := ""
	for _, m := range fencedPythonRe.FindAllStringSubmatch(text, -1) {
		if b := strings.TrimSpace(m[1]); len(b) > len(largest) && !strings.HasPrefix(b, "{") {
			largest = b
		}
	}
	if largest != "" {
		return &Completion{ExecuteScript: largest + "\n", Approach: "script extracted from a fenced python block"}, nil
	}

	return nil, fmt.Errorf("no artifacts found in executor answer: %w", model.ErrNotValid)
}

func decodeCompletion(s string) (*Completion, bool) {
	s = strings.TrimSpace(s)
	s = trailingObjRe.ReplaceAllString(s, "}")
	s = trailingArrRe.ReplaceAllString(s, "]")

	var c Completion
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, false
	}
	if c.ExecuteScript == "" && len(c.Files) == 0 && !c.Refused {
		return nil, false
	}
	return &c, true
}

// extractBalanced returns the balanced JSON object at the start of s.
func extractBalanced(s string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
