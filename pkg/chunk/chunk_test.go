package chunk

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxCharsAppliesFormula(t *testing.T) {
	// W=128000, R=37000 -> budget=91000 -> *0.70*4 = 254800
	assert.Equal(t, 254800, MaxChars(128000))
}

func TestMaxCharsFloorsAtMinChars(t *testing.T) {
	// W=10000 -> budget would be negative, floored to 8000 -> *0.70*4=22400
	assert.Equal(t, 22400, MaxChars(10000))
}

func TestPartitionReturnsSingleWindowWhenUnderLimit(t *testing.T) {
	windows := Partition("short text", 1000)
	require.Len(t, windows, 1)
	assert.Equal(t, "short text", windows[0].Text)
	assert.Equal(t, 1, windows[0].Total)
}

func TestPartitionSplitsOversizedTextOnParagraphBreak(t *testing.T) {
	para1 := strings.Repeat("a", 3000)
	para2 := strings.Repeat("b", 3000)
	text := para1 + "\n\n" + para2

	windows := Partition(text, 4000)
	require.GreaterOrEqual(t, len(windows), 2)
	assert.True(t, windows[0].Total == len(windows))
	assert.Equal(t, para1+"\n\n", windows[0].Text)
}

func TestPartitionPrefixesNonFirstWindowsWithPositionNote(t *testing.T) {
	text := strings.Repeat("x", 20000)
	windows := Partition(text, 5000)
	require.Greater(t, len(windows), 1)
	assert.NotContains(t, windows[0].Text, "[part")
	for i := 1; i < len(windows); i++ {
		assert.Contains(t, windows[i].Text, "[part "+strconv.Itoa(i+1)+" of")
	}
}

func TestChooseBreakAvoidsMarkdownTableRow(t *testing.T) {
	padding := strings.Repeat("x", 1800)
	tableRow := "| col a | col b |"
	tail := strings.Repeat("y", 1800)
	text := padding + "\n" + tableRow + "\n" + tail

	end := chooseBreak(text, 0, len(text))
	assert.False(t, insideTableRow(text, end), "the chosen break must not land inside a table row")
}

func TestPartitionOverlapsSuccessiveWindows(t *testing.T) {
	text := strings.Repeat("word ", 4000)
	windows := Partition(text, 5000)
	require.Greater(t, len(windows), 1)
	for i := 1; i < len(windows); i++ {
		prev := windows[i-1].Text
		body := windows[i].Text[strings.Index(windows[i].Text, "\n")+1:]
		assert.True(t, strings.HasPrefix(body, prev[len(prev)-minOverlapChars:]), "window %d must start with the last %d characters of window %d", i+1, minOverlapChars, i)
	}
}

