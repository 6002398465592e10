package predicate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var magicHeaders = map[string][]byte{
	"png":  []byte("\x89PNG\r\n\x1a\n"),
	"pdf":  []byte("%PDF-"),
	"jpg":  {0xff, 0xd8, 0xff},
	"jpeg": {0xff, 0xd8, 0xff},
	"gif":  []byte("GIF8"),
	"xlsx": []byte("PK\x03\x04"),
	"docx": []byte("PK\x03\x04"),
	"pptx": []byte("PK\x03\x04"),
	"zip":  []byte("PK\x03\x04"),
}

var textFormats = map[string]bool{
	"txt": true, "md": true, "markdown": true, "sql": true, "py": true, "html": true, "htm": true, "xml": true, "tsv": true,
}

// checkFormat validates a file content by its extension.
func checkFormat(name string, b []byte) (bool, string) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if len(b) == 0 {
		return false, fmt.Sprintf("%s is empty", name)
	}

	switch {
	case ext == "csv":
		t, err := parseTable(b)
		if err != nil {
			return false, fmt.Sprintf("%s is not valid CSV: %s", name, err)
		}
		return true, fmt.Sprintf("%s is valid CSV with %d columns and %d data rows", name, len(t.header), len(t.rows))
	case ext == "json":
		if !json.Valid(b) {
			return false, fmt.Sprintf("%s is not valid JSON", name)
		}
		return true, fmt.Sprintf("%s is valid JSON", name)
	case ext == "yaml" || ext == "yml":
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return false, fmt.Sprintf("%s is not valid YAML: %s", name, err)
		}
		return true, fmt.Sprintf("%s is valid YAML", name)
	case magicHeaders[ext] != nil:
		if !bytes.HasPrefix(b, magicHeaders[ext]) {
			return false, fmt.Sprintf("%s doesn't have a %s file signature", name, strings.ToUpper(ext))
		}
		return true, fmt.Sprintf("%s has a %s file signature", name, strings.ToUpper(ext))
	case ext == "svg":
		if !utf8.Valid(b) || !bytes.Contains(bytes.ToLower(b), []byte("<svg")) {
			return false, fmt.Sprintf("%s is not an SVG document", name)
		}
		return true, fmt.Sprintf("%s is an SVG document", name)
	case textFormats[ext]:
		if !utf8.Valid(b) {
			return false, fmt.Sprintf("%s is not valid UTF-8 text", name)
		}
		return true, fmt.Sprintf("%s is valid UTF-8 text", name)
	}

	return true, fmt.Sprintf("%s is non empty, no validator for %q files", name, ext)
}
