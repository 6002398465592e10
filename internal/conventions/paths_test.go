package conventions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskforge/internal/conventions"
)

func TestPaths(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("/home/u/.taskforge/taskforge.db", conventions.DBPath("/home/u/.taskforge"))
	assert.Equal("/home/u/.taskforge/escalations", conventions.EscalationsPath("/home/u/.taskforge"))
	assert.Equal("/home/u/.taskforge/traces.jsonl", conventions.TracesPath("/home/u/.taskforge"))
}
