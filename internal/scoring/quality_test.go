package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prompt = "Explain how database indexing improves query performance"

func TestScoreComponentsInRange(t *testing.T) {
	content := "Database indexing improves query performance because the index lets the engine skip full table scans. For example, a B-tree index narrows lookups to a handful of pages."
	q := Score(prompt, content)

	for name, v := range map[string]float64{
		"composite":   q.Composite,
		"length":      q.Length,
		"structure":   q.Structure,
		"relevance":   q.Relevance,
		"specificity": q.Specificity,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

func TestScoreEmptyContent(t *testing.T) {
	q := Score(prompt, "")
	assert.Equal(t, 0.0, q.Length)
	assert.Equal(t, 0.0, q.Relevance)
}

func TestLengthComponent(t *testing.T) {
	assert.Equal(t, 0.0, lengthComponent(""))
	assert.Less(t, lengthComponent("too short"), 1.0)
	assert.Equal(t, 1.0, lengthComponent(strings.Repeat("a", 500)))
	assert.Less(t, lengthComponent(strings.Repeat("a", 8000)), 1.0, "over-long content degrades")
}

func TestStructureComponent(t *testing.T) {
	structured := "# Overview\n\nSome intro text.\n\n- first point\n- second point\n\n**Important** detail here."
	flat := "just one flat run of text without any markers at all"

	assert.Greater(t, structureComponent(structured), structureComponent(flat))
}

func TestRelevanceRatio(t *testing.T) {
	onTopic := "Indexing a database speeds up query performance dramatically."
	offTopic := "Bananas ripen faster inside paper bags during warm weather."

	require.Greater(t, RelevanceRatio(prompt, onTopic), RelevanceRatio(prompt, offTopic))
	assert.Equal(t, 0.5, RelevanceRatio("a an it", "whatever"), "no significant prompt tokens")
	assert.Equal(t, 1.0, RelevanceRatio("database", "the database layer"))
}

func TestSpecificityComponent(t *testing.T) {
	specific := "This works because the index is sorted. For example, a lookup touches 3 pages instead of 1000. Therefore queries finish in 2 ms."
	vague := "It is generally better and usually faster in most situations overall."

	assert.Greater(t, specificityComponent(specific), specificityComponent(vague))
}

func TestCompositeFavorsBetterAnswer(t *testing.T) {
	good := "Database indexing improves query performance because the engine consults a sorted structure instead of scanning every row. For example, a B-tree lookup on a table with 1000000 rows touches about 20 pages. Therefore point queries return in milliseconds.\n\n- Indexes trade write speed for read speed\n- Composite indexes serve multi-column filters"
	bad := "yes"

	assert.Greater(t, Score(prompt, good).Composite, Score(prompt, bad).Composite)
}
