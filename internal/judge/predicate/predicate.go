package predicate

import (
	"context"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
)

// Name is the judge name recorded on the criteria it evaluates.
const Name = "predicate"

// JudgeConfig is the predicate judge configuration.
type JudgeConfig struct {
	// Policy gives the numeric tolerance when the attempt has no resolution for it.
	Policy *policy.Policy
	Logger log.Logger
}

func (c *JudgeConfig) defaults() error {
	if c.Policy == nil {
		c.Policy = policy.DefaultV1()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "predicate.Judge"})
	return nil
}

// Judge evaluates deterministic predicates over the files produced in the sandbox. The
// predicate is the criterion declared check or, when absent, the one inferred from the
// criterion text.
type Judge struct {
	defaultTolerance float64
	logger           log.Logger
}

// NewJudge returns a new predicate judge.
func NewJudge(cfg JudgeConfig) (*Judge, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Judge{defaultTolerance: cfg.Policy.NumericTolerance(), logger: cfg.Logger}, nil
}

var _ judge.Judge = &Judge{}

func (j *Judge) Name() string { return Name }

// Supports returns true for criteria with a declared check and for checkable criteria
// whose text maps to a predicate.
func (j *Judge) Supports(c model.SuccessCriterion) bool {
	if c.Check != nil {
		return true
	}
	if !c.Checkable {
		return false
	}
	_, ok := ParseCheck(c.Text)
	return ok
}

func (j *Judge) Judge(_ context.Context, in judge.Input) (*judge.Verdict, error) {
	chk := in.Criterion.Check
	if chk == nil {
		parsed, ok := ParseCheck(in.Criterion.Text)
		if !ok {
			return unknown("no predicate matches the criterion text"), nil
		}
		chk = parsed
	}

	file, ok := j.resolveFile(in, chk)
	if !ok {
		if chk.Kind == model.CheckKindFileExists {
			return fail("no produced file matches the deliverable"), nil
		}
		return unknown("no produced file could be bound to the criterion"), nil
	}
	content, present := in.Files[file]
	if !present {
		return fail(fmt.Sprintf("%s was not produced", file)), nil
	}

	switch chk.Kind {
	case model.CheckKindFileExists:
		return pass(fmt.Sprintf("%s was produced (%d bytes)", file, len(content))), nil
	case model.CheckKindFormatValid:
		ok, evidence := checkFormat(file, content)
		return verdict(ok, evidence), nil
	case model.CheckKindNonEmpty:
		return checkNonEmpty(file, content), nil
	}

	t, err := parseTable(content)
	if err != nil {
		return fail(fmt.Sprintf("%s can't be read as CSV: %s", file, err)), nil
	}

	switch chk.Kind {
	case model.CheckKindPrefix:
		return checkPrefix(file, t, chk), nil
	case model.CheckKindNoDuplicates:
		return checkNoDuplicates(file, t, chk), nil
	case model.CheckKindSorted:
		return checkSorted(file, t, chk), nil
	case model.CheckKindSumEquals:
		return checkSum(file, t, chk, j.tolerance(in)), nil
	case model.CheckKindRowCount:
		return checkRowCount(file, t, chk), nil
	}

	return unknown(fmt.Sprintf("unsupported check kind %q", chk.Kind)), nil
}

func (j *Judge) tolerance(in judge.Input) float64 {
	if r, ok := in.Resolution(model.AmbiguityNumericTolerance); ok {
		if tol, err := policy.ParseTolerance(r.Value); err == nil {
			return tol
		}
		j.logger.Warningf("Could not parse numeric tolerance %q, using policy tolerance", r.Value)
	}
	return j.defaultTolerance
}

func (j *Judge) resolveFile(in judge.Input, chk *model.Check) (string, bool) {
	if chk.File != "" {
		return chk.File, true
	}
	names := in.FileNames()
	if d, ok := in.Deliverable(); ok {
		return model.DeliverableFile(d, names, len(in.Spec.Deliverables) == 1)
	}

	var outputs []string
	for _, n := range names {
		if model.ClassifyArtifact(n) == model.ArtifactKindOutput {
			outputs = append(outputs, n)
		}
	}
	if len(outputs) == 1 {
		return outputs[0], true
	}
	return "", false
}

func checkNonEmpty(file string, content []byte) *judge.Verdict {
	if len(content) == 0 {
		return fail(fmt.Sprintf("%s is empty", file))
	}
	if strings.EqualFold(path.Ext(file), ".csv") {
		t, err := parseTable(content)
		if err != nil {
			return fail(fmt.Sprintf("%s can't be read as CSV: %s", file, err))
		}
		if len(t.rows) == 0 {
			return fail(fmt.Sprintf("%s has a header but no data rows", file))
		}
		return pass(fmt.Sprintf("%s has %d data rows", file, len(t.rows)))
	}
	return pass(fmt.Sprintf("%s has %d bytes", file, len(content)))
}

func checkPrefix(file string, t *table, chk *model.Check) *judge.Verdict {
	idx, col, err := t.column(chk.Column)
	if err != nil {
		return fail(fmt.Sprintf("%s: %s", file, err))
	}
	var bad []int
	for i, row := range t.rows {
		if !strings.HasPrefix(t.value(row, idx), chk.Value) {
			bad = append(bad, rowNumber(i))
		}
	}
	if len(bad) > 0 {
		return fail(fmt.Sprintf("%d of %d values in %s of %s don't start with %q (rows %s)", len(bad), len(t.rows), col, file, chk.Value, formatRows(bad)))
	}
	return pass(fmt.Sprintf("all %d values in %s of %s start with %q", len(t.rows), col, file, chk.Value))
}

func checkNoDuplicates(file string, t *table, chk *model.Check) *judge.Verdict {
	scope := "rows"
	key := func(row []string) string { return strings.Join(row, "\x1f") }
	if chk.Column != "" {
		idx, col, err := t.column(chk.Column)
		if err != nil {
			return fail(fmt.Sprintf("%s: %s", file, err))
		}
		scope = "values in " + col
		key = func(row []string) string { return t.value(row, idx) }
	}

	seen := map[string]int{}
	var dups []int
	for i, row := range t.rows {
		k := key(row)
		if _, ok := seen[k]; ok {
			dups = append(dups, rowNumber(i))
			continue
		}
		seen[k] = i
	}
	if len(dups) > 0 {
		return fail(fmt.Sprintf("%s has %d duplicated %s (rows %s)", file, len(dups), scope, formatRows(dups)))
	}
	return pass(fmt.Sprintf("%s has no duplicated %s across %d data rows", file, scope, len(t.rows)))
}

func checkSorted(file string, t *table, chk *model.Check) *judge.Verdict {
	idx, col, err := t.column(chk.Column)
	if err != nil {
		return fail(fmt.Sprintf("%s: %s", file, err))
	}
	order := chk.Order
	if order == "" {
		order = model.SortOrderAsc
	}
	by := "value"
	if chk.Key == model.SortKeyLength {
		by = "length"
	}

	for i := 1; i < len(t.rows); i++ {
		prev, cur := t.value(t.rows[i-1], idx), t.value(t.rows[i], idx)
		c := compareValues(prev, cur, chk.Key)
		if (order == model.SortOrderAsc && c > 0) || (order == model.SortOrderDesc && c < 0) {
			return fail(fmt.Sprintf("%s is not sorted %s by %s of %s: row %d %s comes after row %d %s",
				file, order, by, col, rowNumber(i), describe(cur, chk.Key), rowNumber(i-1), describe(prev, chk.Key)))
		}
	}
	return pass(fmt.Sprintf("%d data rows of %s are sorted %s by %s of %s", len(t.rows), file, order, by, col))
}

func compareValues(a, b string, key model.SortKey) int {
	if key == model.SortKeyLength {
		la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
		switch {
		case la < lb:
			return -1
		case la > lb:
			return 1
		}
		return 0
	}

	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func describe(v string, key model.SortKey) string {
	if key == model.SortKeyLength {
		return fmt.Sprintf("%q (length %d)", v, utf8.RuneCountInString(v))
	}
	return fmt.Sprintf("%q", v)
}

func checkSum(file string, t *table, chk *model.Check, tolerance float64) *judge.Verdict {
	if chk.Expected == nil {
		return unknown("sum check without expected value")
	}
	idx, col, err := t.column(chk.Column)
	if err != nil {
		return fail(fmt.Sprintf("%s: %s", file, err))
	}

	var sum float64
	var bad []int
	for i, row := range t.rows {
		v := strings.TrimSpace(strings.ReplaceAll(t.value(row, idx), ",", ""))
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad = append(bad, rowNumber(i))
			continue
		}
		sum += f
	}
	if len(bad) > 0 {
		return fail(fmt.Sprintf("%s of %s has non numeric values (rows %s)", col, file, formatRows(bad)))
	}

	exp := *chk.Expected
	diff := math.Abs(sum - exp)
	if diff > tolerance {
		return fail(fmt.Sprintf("sum of %s of %s is %s, expected %s within ±%s", col, file, fmtFloat(sum), fmtFloat(exp), fmtFloat(tolerance)))
	}
	return pass(fmt.Sprintf("sum of %s of %s is %s, expected %s within ±%s", col, file, fmtFloat(sum), fmtFloat(exp), fmtFloat(tolerance)))
}

func checkRowCount(file string, t *table, chk *model.Check) *judge.Verdict {
	if chk.Expected == nil {
		return unknown("row count check without expected value")
	}
	exp := int(math.Round(*chk.Expected))
	if len(t.rows) != exp {
		return fail(fmt.Sprintf("%s has %d data rows, expected %d", file, len(t.rows), exp))
	}
	return pass(fmt.Sprintf("%s has %d data rows", file, len(t.rows)))
}

func fmtFloat(f float64) string {
	// Rounded to hide float noise in evidence, comparisons use the raw values.
	return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
}

func verdict(ok bool, evidence string) *judge.Verdict {
	if ok {
		return pass(evidence)
	}
	return fail(evidence)
}

func pass(evidence string) *judge.Verdict {
	return &judge.Verdict{Status: model.CriterionStatusPass, Evidence: evidence}
}

func fail(evidence string) *judge.Verdict {
	return &judge.Verdict{Status: model.CriterionStatusFail, Evidence: evidence}
}

func unknown(evidence string) *judge.Verdict {
	return &judge.Verdict{Status: model.CriterionStatusUnknown, Evidence: evidence}
}
