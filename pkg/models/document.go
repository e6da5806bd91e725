package models

// DocumentType classifies a parsed file by its Lithuanian-language content
// and filename, per spec §4.5's ordered regex rule list.
type DocumentType string

const (
	DocumentTypeTechnicalSpec DocumentType = "technical_spec"
	DocumentTypeContract      DocumentType = "contract"
	DocumentTypeInvitation    DocumentType = "invitation"
	DocumentTypeQualification DocumentType = "qualification"
	DocumentTypeEvaluation    DocumentType = "evaluation"
	DocumentTypeAnnex         DocumentType = "annex"
	DocumentTypeOther         DocumentType = "other"
)

// ErrorSentinel prefixes the Content of a Document whose parse failed. The
// extract stage checks for this prefix to skip the LLM call in-band rather
// than treating a missing document as an aborted stage.
const ErrorSentinel = "[ERROR]"

// Document is the per-parsed-file record. It is created once the parse
// stage completes for a file — successfully or not — and is immutable
// thereafter: spec §3 requires a Document Record to exist for every file
// that reached the parse stage.
type Document struct {
	Filename   string          `json:"filename"`
	Type       DocumentType    `json:"document_type"`
	PageCount  int             `json:"page_count"`
	Content    string          `json:"content"` // markdown text, or "[ERROR] ..." on parse failure
	Extraction *ExtractionFacts `json:"extraction,omitempty"`
}

// Failed reports whether this document's parse step failed, per the
// sentinel-prefix convention of spec §4.5.
func (d *Document) Failed() bool {
	return len(d.Content) >= len(ErrorSentinel) && d.Content[:len(ErrorSentinel)] == ErrorSentinel
}
