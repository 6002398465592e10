package predicate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/judge/predicate"
	"github.com/slok/taskforge/internal/model"
)

func ptrf(f float64) *float64 { return &f }

func TestParseCheck(t *testing.T) {
	tests := map[string]struct {
		text   string
		exp    *model.Check
		expNil bool
	}{
		"Prefix phrases should map to a prefix check on the named column": {
			text: "All Column A values start with @",
			exp:  &model.Check{Kind: model.CheckKindPrefix, Column: "A", Value: "@"},
		},
		"Quoted prefixes should be unquoted": {
			text: `Every URL in the link column begins with "https://".`,
			exp:  &model.Check{Kind: model.CheckKindPrefix, Column: "link", Value: "https://"},
		},
		"Duplicate phrases should map to a whole row duplicates check": {
			text: "No duplicate rows",
			exp:  &model.Check{Kind: model.CheckKindNoDuplicates},
		},
		"Unique column phrases should map to a column duplicates check": {
			text: "Values in the email column are unique",
			exp:  &model.Check{Kind: model.CheckKindNoDuplicates, Column: "email"},
		},
		"Sort by length phrases should map to a length sorted check": {
			text: "Sorted ascending by Column A length",
			exp:  &model.Check{Kind: model.CheckKindSorted, Column: "A", Order: model.SortOrderAsc, Key: model.SortKeyLength},
		},
		"Descending phrases should map to a descending sorted check": {
			text: "Rows are ordered by the price column, largest first",
			exp:  &model.Check{Kind: model.CheckKindSorted, Column: "price", Order: model.SortOrderDesc, Key: model.SortKeyValue},
		},
		"Sum phrases should map to a sum check with the expected value": {
			text: "The sum of Column C equals 1,250.50",
			exp:  &model.Check{Kind: model.CheckKindSumEquals, Column: "C", Expected: ptrf(1250.5)},
		},
		"Row count phrases should map to a row count check": {
			text: "The output has exactly 120 rows",
			exp:  &model.Check{Kind: model.CheckKindRowCount, Expected: ptrf(120)},
		},
		"Format phrases should map to a format check": {
			text: "The report is a valid PDF",
			exp:  &model.Check{Kind: model.CheckKindFormatValid},
		},
		"Non empty phrases should map to a non empty check": {
			text: "The file is not empty",
			exp:  &model.Check{Kind: model.CheckKindNonEmpty},
		},
		"Existence phrases should map to a file exists check": {
			text: "A chart is produced",
			exp:  &model.Check{Kind: model.CheckKindFileExists},
		},
		"Judgment phrases should not map to any check": {
			text:   "Chart labels are readable",
			expNil: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, ok := predicate.ParseCheck(test.text)
			if test.expNil {
				assert.False(ok)
				assert.Nil(got)
				return
			}
			assert.True(ok)
			assert.Equal(test.exp, got)
		})
	}
}
