package printer

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/slok/taskforge/internal/model"
)

// FormatBytes returns a human-readable byte size string.
// Examples: "0 B", "512 B", "1.5 KiB", "700 MiB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatUsage returns the token count and estimated cost of a usage.
// Example: "1,500 tokens ($0.0008)".
func FormatUsage(tokens int, costUSD float64) string {
	return fmt.Sprintf("%s tokens ($%.4f)", humanize.Comma(int64(tokens)), costUSD)
}

func artifactsSize(set *model.ArtifactSet) int64 {
	if set == nil {
		return 0
	}
	var n int64
	for _, b := range set.Files {
		n += int64(len(b))
	}
	return n
}
