package chunk

import (
	"encoding/json"

	"github.com/proculyze/analyzer/pkg/models"
)

// maxListItemsWhenShrunk is the truncation applied to oversized list
// fields when a per-document payload must be shrunk to fit the
// aggregation prompt budget.
const maxListItemsWhenShrunk = 5

// ShrinkForAggregation trims each of facts's per-document Extraction
// Facts when their combined JSON size would exceed maxChars, by
// retaining only an essential-field allowlist and truncating oversized
// lists to their first 5 items (spec §4.4's aggregate shrink). If the
// combined size already fits, facts is returned unmodified.
func ShrinkForAggregation(facts []*models.ExtractionFacts, maxChars int) []*models.ExtractionFacts {
	if fits(facts, maxChars) {
		return facts
	}

	out := make([]*models.ExtractionFacts, len(facts))
	for i, f := range facts {
		out[i] = shrinkOne(f)
	}
	return out
}

func fits(facts []*models.ExtractionFacts, maxChars int) bool {
	raw, err := json.Marshal(facts)
	if err != nil {
		return true
	}
	return len(raw) <= maxChars
}

// shrinkOne retains the essential-field allowlist (title, summary,
// procurement type, value, deadlines, requirements, evaluation criteria,
// risks) and truncates its list fields to the first 5 items, dropping
// everything else (organization, financial terms, submission
// requirements, qualifications, source references, confidence notes —
// fields judged least load-bearing for the cross-document aggregation
// prompt).
func shrinkOne(f *models.ExtractionFacts) *models.ExtractionFacts {
	if f == nil {
		return models.NewExtractionFacts()
	}
	out := models.NewExtractionFacts()
	out.Title = f.Title
	out.Summary = f.Summary
	out.ProcurementType = f.ProcurementType
	out.Value = f.Value
	out.Deadlines = truncate(f.Deadlines, maxListItemsWhenShrunk)
	out.Requirements = truncate(f.Requirements, maxListItemsWhenShrunk)
	out.EvaluationCriteria = truncate(f.EvaluationCriteria, maxListItemsWhenShrunk)
	out.Risks = truncate(f.Risks, maxListItemsWhenShrunk)
	return out
}

func truncate[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
