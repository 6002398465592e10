package predicate

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// table is a parsed CSV file. The first record is the header row.
type table struct {
	header []string
	rows   [][]string
}

func parseTable(b []byte) (*table, error) {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("not valid UTF-8")
	}
	r := csv.NewReader(bytes.NewReader(b))
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no header row")
	}
	return &table{header: records[0], rows: records[1:]}, nil
}

var letterColumnRe = regexp.MustCompile(`^[A-Za-z]{1,2}$`)

// column resolves a column reference: a header name (case insensitive), a spreadsheet
// letter or a 1-based index. An empty reference is the first column.
func (t *table) column(ref string) (int, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, t.columnName(0), nil
	}
	for i, h := range t.header {
		if strings.EqualFold(strings.TrimSpace(h), ref) {
			return i, t.columnName(i), nil
		}
	}
	idx := -1
	switch {
	case letterColumnRe.MatchString(ref):
		idx = 0
		for _, r := range strings.ToUpper(ref) {
			idx = idx*26 + int(r-'A') + 1
		}
		idx--
	default:
		if n, err := strconv.Atoi(ref); err == nil {
			idx = n - 1
		}
	}
	if idx < 0 || idx >= len(t.header) {
		return 0, "", fmt.Errorf("column %q not found in header [%s]", ref, strings.Join(t.header, ", "))
	}
	return idx, t.columnName(idx), nil
}

func (t *table) columnName(idx int) string {
	letter := columnLetter(idx)
	if idx < len(t.header) && strings.TrimSpace(t.header[idx]) != "" {
		return fmt.Sprintf("column %s (%s)", letter, strings.TrimSpace(t.header[idx]))
	}
	return "column " + letter
}

// columnLetter returns the spreadsheet letter of a 0-based column index.
func columnLetter(idx int) string {
	var res []byte
	for idx >= 0 {
		res = append([]byte{byte('A' + idx%26)}, res...)
		idx = idx/26 - 1
	}
	return string(res)
}

// value returns the cell of a row, rows shorter than the header have empty cells.
func (t *table) value(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// rowNumber is the 1-based line of a data row in the file, counting the header.
func rowNumber(i int) int { return i + 2 }

func formatRows(rows []int) string {
	const max = 5
	parts := make([]string, 0, max)
	for i, r := range rows {
		if i == max {
			parts = append(parts, fmt.Sprintf("and %d more", len(rows)-max))
			break
		}
		parts = append(parts, strconv.Itoa(r))
	}
	return strings.Join(parts, ", ")
}
