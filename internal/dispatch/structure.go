package dispatch

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

// CheckStructure checks an artifact set has the members the artifact contract requires
// and that every name is a local, clean relative path. Only file names are inspected,
// never their content.
func CheckStructure(names []string, inputNames []string, pinnedOutputs []string) error {
	present := make(map[string]bool, len(names))
	scripts := 0
	outputs := 0
	for _, n := range names {
		present[n] = true
		switch model.ClassifyArtifact(n) {
		case model.ArtifactKindScript:
			scripts++
		case model.ArtifactKindOutput:
			outputs++
		}
	}
	for _, p := range pinnedOutputs {
		if present[p] && model.ClassifyArtifact(p) != model.ArtifactKindOutput {
			outputs++
		}
	}

	var missing []string
	switch {
	case scripts == 0:
		missing = append(missing, "missing "+model.ScriptFilename)
	case scripts > 1:
		missing = append(missing, fmt.Sprintf("%d reproducing scripts, exactly one %s is allowed", scripts, model.ScriptFilename))
	}
	for _, in := range inputNames {
		if f := model.InputFilename(in); !present[f] {
			missing = append(missing, "missing "+f)
		}
	}
	if outputs == 0 {
		missing = append(missing, fmt.Sprintf("missing output file (*%s.* or *%s.*)", model.OutputSuffix, model.CleanedSuffix))
	}

	missing = append(missing, invalidNames(names)...)

	if len(missing) > 0 {
		return &model.StructuralIncompleteError{Missing: missing}
	}
	return nil
}

// invalidNames returns a problem per name that can't be laid out in a working directory:
// absolute, escaping, non clean or colliding with another name once cleaned.
func invalidNames(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var problems []string
	cleaned := make(map[string]string, len(sorted))
	for _, n := range sorted {
		c := path.Clean(n)
		switch {
		case n == "" || strings.Contains(n, "\\") || !filepath.IsLocal(filepath.FromSlash(n)):
			problems = append(problems, fmt.Sprintf("invalid file name %q, it must be a relative path inside the working directory", n))
			continue
		case c != n:
			problems = append(problems, fmt.Sprintf("invalid file name %q, use %q", n, c))
		}
		if prev, ok := cleaned[c]; ok {
			problems = append(problems, fmt.Sprintf("file names %q and %q are the same file", prev, n))
			continue
		}
		cleaned[c] = n
	}
	return problems
}
