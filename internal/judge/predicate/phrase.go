package predicate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/slok/taskforge/internal/model"
)

var (
	columnRe         = regexp.MustCompile(`\b(?i:column)\s+(?:["'\x60]([^"'\x60]+)["'\x60]|([A-Z]{1,2}|\d+)\b)`)
	namedColumnRe    = regexp.MustCompile(`(?i)["'\x60]?([A-Za-z0-9_]+)["'\x60]?\s+column\b`)
	prefixRe         = regexp.MustCompile(`(?i)\b(?:starts?|begins?)\s+with\s+(\S+)`)
	duplicatesRe     = regexp.MustCompile(`(?i)\b(?:no|without|zero)\s+duplicate|\bduplicates?\s+(?:are\s+|were\s+)?removed\b|\bdeduplicated\b|\bunique\b`)
	sortedRe         = regexp.MustCompile(`(?i)\bsorted\b|\bordered\b|\bin\s+(?:ascending|descending)\s+order\b`)
	directionRe      = regexp.MustCompile(`(?i)\b(?:ascending|descending)\b`)
	descendingRe     = regexp.MustCompile(`(?i)\bdescending\b|\bdesc\b|\bdecreasing\b|\blargest\s+first\b|\blongest\s+first\b|\bz\s*-\s*a\b`)
	lengthRe         = regexp.MustCompile(`(?i)\blength\b|\blongest\b|\bshortest\b`)
	sumRe            = regexp.MustCompile(`(?i)\b(?:sum|total)\b.*?\b(?:equals?|equal\s+to|is|matches|to)\s+(-?\d[\d,]*(?:\.\d+)?)`)
	rowCountRe       = regexp.MustCompile(`(?i)\b(?:exactly\s+)?(\d[\d,]*)\s+(?:data\s+)?rows\b|\brow\s+count\s+(?:is|of|equals?)\s+(\d[\d,]*)`)
	formatValidRe    = regexp.MustCompile(`(?i)\bvalid\s+[a-z0-9]+\b|\bis\s+(?:a\s+)?valid\b|\bwell[\s-]formed\b|\bparses\b`)
	nonEmptyRe       = regexp.MustCompile(`(?i)\bnon-?empty\b|\bnot\s+empty\b|\bat\s+least\s+one\s+(?:data\s+)?row\b`)
	fileExistsRe     = regexp.MustCompile(`(?i)\b(?:is|are)\s+(?:produced|generated|created|present|delivered|saved)\b|\bexists?\b`)
	prefixTrimChars  = "\"'`“”‘’"
	prefixTrimSuffix = ".,;:)"
)

var columnStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "all": true, "each": true, "every": true, "that": true, "this": true, "one": true, "first": true, "same": true,
}

// ParseCheck infers a deterministic predicate from a criterion text with a fixed, ordered
// phrase table. It returns false when no phrase matches.
func ParseCheck(text string) (*model.Check, bool) {
	col := parseColumn(text)

	if m := prefixRe.FindStringSubmatch(text); m != nil {
		v := strings.Trim(m[1], prefixTrimChars)
		v = strings.TrimRight(v, prefixTrimSuffix)
		v = strings.Trim(v, prefixTrimChars)
		if v != "" {
			return &model.Check{Kind: model.CheckKindPrefix, Column: col, Value: v}, true
		}
	}

	if duplicatesRe.MatchString(text) {
		return &model.Check{Kind: model.CheckKindNoDuplicates, Column: col}, true
	}

	if sortedRe.MatchString(text) || directionRe.MatchString(text) {
		chk := &model.Check{Kind: model.CheckKindSorted, Column: col, Order: model.SortOrderAsc, Key: model.SortKeyValue}
		if descendingRe.MatchString(text) {
			chk.Order = model.SortOrderDesc
		}
		if lengthRe.MatchString(text) {
			chk.Key = model.SortKeyLength
		}
		return chk, true
	}

	if m := sumRe.FindStringSubmatch(text); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return &model.Check{Kind: model.CheckKindSumEquals, Column: col, Expected: &v}, true
		}
	}

	if m := rowCountRe.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, ok := parseNumber(raw); ok {
			return &model.Check{Kind: model.CheckKindRowCount, Expected: &v}, true
		}
	}

	if formatValidRe.MatchString(text) {
		return &model.Check{Kind: model.CheckKindFormatValid}, true
	}
	if nonEmptyRe.MatchString(text) {
		return &model.Check{Kind: model.CheckKindNonEmpty}, true
	}
	if fileExistsRe.MatchString(text) {
		return &model.Check{Kind: model.CheckKindFileExists}, true
	}

	return nil, false
}

func parseColumn(text string) string {
	if m := columnRe.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	for _, m := range namedColumnRe.FindAllStringSubmatch(text, -1) {
		if !columnStopWords[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	return ""
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
