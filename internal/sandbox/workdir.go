package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/slok/taskforge/internal/model"
)

// MaxCollectedBytes bounds the total size read back from a working directory.
const MaxCollectedBytes = 256 << 20

// ErrUnusableWorkdir is returned when the files given or produced can't be used as a
// working directory. It is a fault of the artifacts, not of the sandbox.
var ErrUnusableWorkdir = errors.New("unusable working directory")

// WriteWorkdir writes the files into dir. Paths escaping dir are rejected.
func WriteWorkdir(dir string, files map[string][]byte) error {
	for name, content := range files {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("file %q escapes the working directory: %w: %w", name, ErrUnusableWorkdir, model.ErrNotValid)
		}
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("could not create dir for %q: %w", name, err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			return fmt.Errorf("could not write %q: %w", name, err)
		}
	}
	return nil
}

// ReadWorkdir reads every regular file under dir keyed by slash separated relative path.
func ReadWorkdir(dir string) (map[string][]byte, error) {
	files := map[string][]byte{}
	total := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		total += len(b)
		if total > MaxCollectedBytes {
			return fmt.Errorf("working directory exceeds %d bytes: %w", MaxCollectedBytes, ErrUnusableWorkdir)
		}
		files[filepath.ToSlash(rel)] = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read working directory: %w", err)
	}
	return files, nil
}
