package stage

import (
	"testing"

	"github.com/proculyze/analyzer/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMatchesFilenameFirst(t *testing.T) {
	got := Classify("Technine_specifikacija.pdf", "")
	assert.Equal(t, models.DocumentTypeTechnicalSpec, got)
}

func TestClassifyFallsBackToContentWhenFilenameUnmatched(t *testing.T) {
	got := Classify("dokumentas1.pdf", "Sutarties projektas tarp šalių")
	assert.Equal(t, models.DocumentTypeContract, got)
}

func TestClassifyOnlySamplesFirst2000Chars(t *testing.T) {
	padding := make([]byte, 2100)
	for i := range padding {
		padding[i] = 'x'
	}
	content := string(padding) + " sutartis"
	got := Classify("document.pdf", content)
	assert.Equal(t, models.DocumentTypeOther, got)
}

func TestClassifyUnmatchedReturnsOther(t *testing.T) {
	got := Classify("random.pdf", "nothing relevant here")
	assert.Equal(t, models.DocumentTypeOther, got)
}

func TestClassifyFirstRuleWinsOnMultipleMatches(t *testing.T) {
	got := Classify("technine_sutartis.pdf", "")
	assert.Equal(t, models.DocumentTypeTechnicalSpec, got)
}
