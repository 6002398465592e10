package printer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/printer"
)

func TestFormatBytes(t *testing.T) {
	tests := map[string]struct {
		bytes    int64
		expected string
	}{
		"zero bytes":     {bytes: 0, expected: "0 B"},
		"negative bytes": {bytes: -1, expected: "0 B"},
		"bytes":          {bytes: 512, expected: "512 B"},
		"kibibytes":      {bytes: 1536, expected: "1.5 KiB"},
		"mebibytes":      {bytes: 700 * 1024 * 1024, expected: "700 MiB"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.FormatBytes(test.bytes))
		})
	}
}

func TestFormatUsage(t *testing.T) {
	tests := map[string]struct {
		tokens   int
		cost     float64
		expected string
	}{
		"no usage":    {expected: "0 tokens ($0.0000)"},
		"usage":       {tokens: 1500, cost: 0.0008, expected: "1,500 tokens ($0.0008)"},
		"large usage": {tokens: 2_000_000, cost: 15, expected: "2,000,000 tokens ($15.0000)"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, printer.FormatUsage(test.tokens, test.cost))
		})
	}
}
