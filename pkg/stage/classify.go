package stage

import (
	"regexp"

	"github.com/proculyze/analyzer/pkg/models"
)

// classificationRule pairs a compiled Lithuanian-stem regex with the
// document type it maps to (spec §4.5's ordered classification list).
type classificationRule struct {
	pattern *regexp.Regexp
	docType models.DocumentType
}

// classificationRules is evaluated in order; the first match wins.
var classificationRules = []classificationRule{
	{regexp.MustCompile(`(?i)technin|specifikacij`), models.DocumentTypeTechnicalSpec},
	{regexp.MustCompile(`(?i)sutart`), models.DocumentTypeContract},
	{regexp.MustCompile(`(?i)kvietim|skelbim`), models.DocumentTypeInvitation},
	{regexp.MustCompile(`(?i)kvalifikacij`), models.DocumentTypeQualification},
	{regexp.MustCompile(`(?i)vertinim|kriterij`), models.DocumentTypeEvaluation},
	{regexp.MustCompile(`(?i)pried|forma|šablon`), models.DocumentTypeAnnex},
}

// contentSampleChars is the prefix of a document's content consulted
// after the filename fails to match any rule.
const contentSampleChars = 2000

// Classify assigns a DocumentType by matching filename first, then the
// first 2,000 characters of content, against the ordered Lithuanian-stem
// rule list; the first match wins and an unmatched document classifies
// as "other" (spec §4.5).
func Classify(filename, content string) models.DocumentType {
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(filename) {
			return rule.docType
		}
	}

	sample := content
	if len(sample) > contentSampleChars {
		sample = sample[:contentSampleChars]
	}
	for _, rule := range classificationRules {
		if rule.pattern.MatchString(sample) {
			return rule.docType
		}
	}

	return models.DocumentTypeOther
}
