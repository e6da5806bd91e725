package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/models"
)

func TestShrinkForAggregationNoopWhenWithinBudget(t *testing.T) {
	f := models.NewExtractionFacts()
	f.Title = strPtr("small")
	facts := []*models.ExtractionFacts{f}

	out := ShrinkForAggregation(facts, 100000)
	assert.Same(t, f, out[0])
}

func TestShrinkForAggregationTruncatesListsWhenOverBudget(t *testing.T) {
	f := models.NewExtractionFacts()
	f.Title = strPtr("big doc")
	for i := 0; i < 20; i++ {
		f.Requirements = append(f.Requirements, models.Requirement{Description: "requirement text that is reasonably long", Mandatory: true})
	}
	facts := []*models.ExtractionFacts{f}

	out := ShrinkForAggregation(facts, 50) // tiny budget forces shrink
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len(out[0].Requirements), maxListItemsWhenShrunk)
	assert.Equal(t, "big doc", *out[0].Title)
}

func TestShrinkForAggregationDropsNonEssentialFields(t *testing.T) {
	f := models.NewExtractionFacts()
	f.Organization = &models.Organization{Name: strPtr("Some Authority")}
	f.ConfidenceNotes = []string{"note"}
	facts := []*models.ExtractionFacts{f}

	out := ShrinkForAggregation(facts, 10)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].Organization)
	assert.Empty(t, out[0].ConfidenceNotes)
}
