package model

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Artifact contract naming conventions.
const (
	// ScriptFilename is the only accepted name for the reproducing script.
	ScriptFilename = "execute.py"
	// InputPrefix prefixes the verbatim preserved input files.
	InputPrefix = "input_"
	// RawPrefix prefixes raw intermediate files.
	RawPrefix = "raw_"
	// OutputSuffix and CleanedSuffix mark output deliverables (before the extension).
	OutputSuffix  = "_output"
	CleanedSuffix = "_cleaned"
)

// ArtifactKind classifies an artifact file by its name.
type ArtifactKind string

const (
	ArtifactKindScript ArtifactKind = "script"
	ArtifactKindInput  ArtifactKind = "input"
	ArtifactKindOutput ArtifactKind = "output"
	ArtifactKindRaw    ArtifactKind = "raw"
	ArtifactKindOther  ArtifactKind = "other"
)

// ClassifyArtifact returns the kind of an artifact based only on its name.
func ClassifyArtifact(name string) ArtifactKind {
	base := path.Base(name)
	switch {
	case base == ScriptFilename:
		return ArtifactKindScript
	case strings.HasPrefix(base, InputPrefix):
		return ArtifactKindInput
	case strings.HasPrefix(base, RawPrefix):
		return ArtifactKindRaw
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	if strings.HasSuffix(stem, OutputSuffix) || strings.HasSuffix(stem, CleanedSuffix) {
		return ArtifactKindOutput
	}
	return ArtifactKindOther
}

// InputFilename returns the preserved file name for an input.
func InputFilename(inputName string) string {
	if strings.HasPrefix(inputName, InputPrefix) {
		return inputName
	}
	return InputPrefix + inputName
}

// ArtifactSet is the set of files returned by an executor for one attempt.
type ArtifactSet struct {
	Files         map[string][]byte `json:"files"`
	ProducedAt    time.Time         `json:"produced_at"`
	ProducerRunID string            `json:"producer_run_id"`
}

// Names returns the sorted file names.
func (a ArtifactSet) Names() []string {
	names := make([]string, 0, len(a.Files))
	for n := range a.Files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NamesOf returns the sorted file names of a kind.
func (a ArtifactSet) NamesOf(kind ArtifactKind) []string {
	var names []string
	for _, n := range a.Names() {
		if ClassifyArtifact(n) == kind {
			names = append(names, n)
		}
	}
	return names
}

// Has returns true if the set has the file.
func (a ArtifactSet) Has(name string) bool {
	_, ok := a.Files[name]
	return ok
}

// ArtifactFile is a manifest entry of an artifact set.
type ArtifactFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// Manifest returns the sorted content-addressed manifest of the set.
func (a ArtifactSet) Manifest() []ArtifactFile {
	files := make([]ArtifactFile, 0, len(a.Files))
	for _, n := range a.Names() {
		files = append(files, ArtifactFile{Name: n, SHA256: ContentHash(a.Files[n]), Size: len(a.Files[n])})
	}
	return files
}

// Clone returns a deep copy of the set.
func (a ArtifactSet) Clone() ArtifactSet {
	c := a
	c.Files = make(map[string][]byte, len(a.Files))
	for n, b := range a.Files {
		c.Files[n] = append([]byte(nil), b...)
	}
	return c
}

// ContentHash returns the hex sha256 of the content.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var extRe = regexp.MustCompile(`^[a-z0-9]+$`)

// FormatExtension returns the file extension used for a deliverable format, empty if the
// format can't be used as an extension.
func FormatExtension(format string) string {
	f := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if !extRe.MatchString(f) {
		return ""
	}
	return f
}

// DeliverableFile resolves the produced file of a deliverable among the names. A pinned
// filename must be present as is. Otherwise the output files with the format extension are
// candidates, the one whose stem names the deliverable wins, then the first in name order.
// When the format has no extension and the spec has a single deliverable any output file
// is a candidate.
func DeliverableFile(d Deliverable, names []string, single bool) (string, bool) {
	if d.Filename != "" {
		for _, n := range names {
			if n == d.Filename {
				return n, true
			}
		}
		return "", false
	}

	ext := FormatExtension(d.Format)
	var candidates []string
	for _, n := range names {
		if ClassifyArtifact(n) != ArtifactKindOutput {
			continue
		}
		if ext != "" && strings.ToLower(strings.TrimPrefix(path.Ext(n), ".")) != ext {
			continue
		}
		if ext == "" && !single {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)

	id := strings.ToLower(d.ID)
	name := strings.ToLower(strings.ReplaceAll(d.Name, " ", "_"))
	for _, c := range candidates {
		stem := strings.ToLower(path.Base(c))
		if (id != "" && strings.HasPrefix(stem, id)) || (name != "" && strings.HasPrefix(stem, name)) {
			return c, true
		}
	}
	return candidates[0], true
}
