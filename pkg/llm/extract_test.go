package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONPlainObject(t *testing.T) {
	out, ok := ExtractJSON(`{"title": "Tender"}`)
	assert.True(t, ok)
	assert.Equal(t, `{"title": "Tender"}`, out)
}

func TestExtractJSONFencedMarkdown(t *testing.T) {
	input := "```json\n{\"title\": \"Tender\"}\n```"
	out, ok := ExtractJSON(input)
	assert.True(t, ok)
	assert.Equal(t, `{"title": "Tender"}`, out)
}

func TestExtractJSONFencedNoLangTag(t *testing.T) {
	input := "```\n{\"a\": 1}\n```"
	out, ok := ExtractJSON(input)
	assert.True(t, ok)
	assert.Equal(t, `{"a": 1}`, out)
}

func TestExtractJSONWithSurroundingProse(t *testing.T) {
	input := `Here is the extracted data: {"title": "Tender", "value": {"amount": 100}} Let me know if you need more.`
	out, ok := ExtractJSON(input)
	assert.True(t, ok)
	assert.Equal(t, `{"title": "Tender", "value": {"amount": 100}}`, out)
}

func TestExtractJSONBraceInsideString(t *testing.T) {
	input := `{"summary": "Budget is {approx} 100k", "title": "X"}`
	out, ok := ExtractJSON(input)
	assert.True(t, ok)
	assert.Equal(t, input, out)
}

func TestExtractJSONNoObjectFound(t *testing.T) {
	_, ok := ExtractJSON("no json here at all")
	assert.False(t, ok)
}

func TestExtractJSONEscapedQuoteInString(t *testing.T) {
	input := `{"summary": "He said \"budget: {x}\"", "title": "X"}`
	out, ok := ExtractJSON(input)
	assert.True(t, ok)
	assert.Equal(t, input, out)
}
