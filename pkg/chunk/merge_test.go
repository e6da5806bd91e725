package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proculyze/analyzer/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestMergeTakesFirstNonNullScalar(t *testing.T) {
	a := models.NewExtractionFacts()
	b := models.NewExtractionFacts()
	b.Title = strPtr("from b")
	c := models.NewExtractionFacts()
	c.Title = strPtr("from c")

	merged := Merge([]*models.ExtractionFacts{a, b, c})
	require.NotNil(t, merged.Title)
	assert.Equal(t, "from b", *merged.Title)
}

func TestMergeConcatenatesAndDedupesLists(t *testing.T) {
	a := models.NewExtractionFacts()
	a.Requirements = []models.Requirement{{Description: "req1", Mandatory: true}}
	b := models.NewExtractionFacts()
	b.Requirements = []models.Requirement{
		{Description: "req1", Mandatory: true}, // duplicate, dropped
		{Description: "req2", Mandatory: false},
	}

	merged := Merge([]*models.ExtractionFacts{a, b})
	require.Len(t, merged.Requirements, 2)
	assert.Equal(t, "req1", merged.Requirements[0].Description)
	assert.Equal(t, "req2", merged.Requirements[1].Description)
}

func TestMergePreservesStableOrderAcrossChunks(t *testing.T) {
	a := models.NewExtractionFacts()
	a.ConfidenceNotes = []string{"note-a"}
	b := models.NewExtractionFacts()
	b.ConfidenceNotes = []string{"note-b", "note-a"}

	merged := Merge([]*models.ExtractionFacts{a, b})
	require.Len(t, merged.ConfidenceNotes, 2)
	assert.Equal(t, []string{"note-a", "note-b"}, merged.ConfidenceNotes)
}

func TestMergeIsDeterministicForFixedOrder(t *testing.T) {
	a := models.NewExtractionFacts()
	a.Title = strPtr("A")
	b := models.NewExtractionFacts()
	b.Title = strPtr("B")

	m1 := Merge([]*models.ExtractionFacts{a, b})
	m2 := Merge([]*models.ExtractionFacts{a, b})
	assert.Equal(t, *m1.Title, *m2.Title)
}

func TestMergeEmptyChunksReturnsEmptyFacts(t *testing.T) {
	merged := Merge(nil)
	require.NotNil(t, merged)
	assert.Empty(t, merged.Requirements)
	assert.Nil(t, merged.Title)
}

func TestMergeHandlesNestedObjectAsScalar(t *testing.T) {
	a := models.NewExtractionFacts()
	b := models.NewExtractionFacts()
	amount := 1000.0
	b.Value = &models.MonetaryValue{Amount: &amount}

	merged := Merge([]*models.ExtractionFacts{a, b})
	require.NotNil(t, merged.Value)
	assert.Equal(t, 1000.0, *merged.Value.Amount)
}
