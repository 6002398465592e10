package printer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/printer"
)

func TestTimeAgo(t *testing.T) {
	now := time.Now().UTC()

	tests := map[string]struct {
		time     time.Time
		expected string
	}{
		"A task updated seconds ago should be shown in seconds.": {
			time:     now.Add(-30 * time.Second),
			expected: "30 seconds ago (UTC)",
		},
		"A task updated minutes ago should be shown in minutes.": {
			time:     now.Add(-45 * time.Minute),
			expected: "45 minutes ago (UTC)",
		},
		"A task updated hours ago should be shown in hours.": {
			time:     now.Add(-5 * time.Hour),
			expected: "5 hours ago (UTC)",
		},
		"A task updated yesterday should be shown as a day.": {
			time:     now.Add(-24 * time.Hour),
			expected: "1 day ago (UTC)",
		},
		"A task updated more than a week ago should be shown in weeks.": {
			time:     now.Add(-8 * 24 * time.Hour),
			expected: "1 week ago (UTC)",
		},
		"Clock skew in the store should not print negative times.": {
			time:     now.Add(5 * time.Minute),
			expected: "in the future (UTC)",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.TimeAgo(test.time))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := map[string]struct {
		time     time.Time
		expected string
	}{
		"UTC timestamps should be printed as they are.": {
			time:     time.Date(2026, 4, 1, 9, 0, 5, 0, time.UTC),
			expected: "2026-04-01 09:00:05 UTC",
		},
		"Zoned timestamps should be converted to UTC.": {
			time:     time.Date(2026, 4, 1, 9, 0, 5, 0, time.FixedZone("CEST", 2*3600)),
			expected: "2026-04-01 07:00:05 UTC",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.FormatTimestamp(test.time))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[string]struct {
		d        time.Duration
		expected string
	}{
		"Zero durations should be a dash.": {
			d:        0,
			expected: "-",
		},
		"Durations should be rounded to milliseconds.": {
			d:        1500*time.Millisecond + 300*time.Microsecond,
			expected: "1.5s",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.FormatDuration(test.d))
		})
	}
}
