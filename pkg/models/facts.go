// Package models holds the data shapes shared across the analysis pipeline:
// the durable Analysis and Document records, the append-only Event log, the
// ephemeral ThinkingChunk, and the Extraction Facts the LLM Gateway produces
// and the Chunking/Merge stage combines.
package models

// ExtractionFacts is the structured container the LLM Gateway fills in for a
// single document, and the shape the merged Report ends up in too. Every
// scalar is nullable (a pointer); every list defaults to empty, never nil,
// so downstream JSON encoding never emits `null` for a list field.
//
// The struct doubles as the source of truth for the wire JSON Schema (see
// pkg/llm/schema) and for runtime validation — declared once, derived twice,
// per SPEC_FULL's design note on static targets for a dynamic schema.
type ExtractionFacts struct {
	Title           *string `json:"title" jsonschema:"description=Document title"`
	Summary         *string `json:"summary" jsonschema:"description=One-paragraph summary of the document"`
	ProcurementType *string `json:"procurement_type" jsonschema:"description=e.g. open tender, negotiated procedure, direct purchase"`

	Value *MonetaryValue `json:"value"`

	Organization *Organization      `json:"organization"`
	Financial    *FinancialTerms    `json:"financial_terms"`
	Submission   *SubmissionDetails `json:"submission_requirements"`

	Deadlines []Deadline `json:"deadlines"`

	Requirements        []Requirement        `json:"requirements"`
	EvaluationCriteria  []EvaluationCriterion `json:"evaluation_criteria"`
	Risks               []Risk                `json:"risks"`
	Qualifications      []Qualification       `json:"qualifications"`
	SourceReferences    []SourceReference     `json:"source_references"`
	ConfidenceNotes     []string              `json:"confidence_notes"`
}

// MonetaryValue is a scalar-ish nested object: an amount with currency and a
// VAT flag. Treated as a single scalar field by the merge rules (first
// non-null value wins, it is never itself merged field-by-field).
type MonetaryValue struct {
	Amount     *float64 `json:"amount"`
	Currency   *string  `json:"currency"`
	IncludesVAT *bool   `json:"includes_vat"`
}

// Organization describes the contracting authority.
type Organization struct {
	Name    *string `json:"name"`
	Code    *string `json:"code"`
	Address *string `json:"address"`
	Contact *string `json:"contact"`
}

// FinancialTerms captures payment and budget terms.
type FinancialTerms struct {
	PaymentTerms  *string        `json:"payment_terms"`
	EstimatedCost *MonetaryValue `json:"estimated_cost"`
	Guarantee     *string        `json:"guarantee"`
}

// SubmissionDetails describes how and where to submit a bid.
type SubmissionDetails struct {
	Method   *string `json:"method"`
	Location *string `json:"location"`
	Language *string `json:"language"`
}

// Deadline is a list item: a labeled point in time.
type Deadline struct {
	Label string `json:"label"`
	Date  string `json:"date"`
}

// Requirement is a list item describing one procurement requirement.
type Requirement struct {
	Description string `json:"description"`
	Mandatory   bool   `json:"mandatory"`
}

// EvaluationCriterion is a list item describing one scoring criterion.
type EvaluationCriterion struct {
	Name   string   `json:"name"`
	Weight *float64 `json:"weight,omitempty"`
}

// Risk is a list item flagging something worth a human's attention.
type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Qualification is a list item describing a bidder qualification criterion.
type Qualification struct {
	Description string `json:"description"`
}

// SourceReference points a fact back at the document/page it came from.
type SourceReference struct {
	Filename string `json:"filename"`
	Page     *int   `json:"page,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// NewExtractionFacts returns a zero-value ExtractionFacts with every list
// initialized to an empty (non-nil) slice, matching the invariant that list
// fields default to empty rather than null.
func NewExtractionFacts() *ExtractionFacts {
	return &ExtractionFacts{
		Deadlines:          []Deadline{},
		Requirements:       []Requirement{},
		EvaluationCriteria: []EvaluationCriterion{},
		Risks:              []Risk{},
		Qualifications:     []Qualification{},
		SourceReferences:   []SourceReference{},
		ConfidenceNotes:    []string{},
	}
}

// WithFailureNote returns an empty ExtractionFacts whose confidence_notes
// carries the given failure reason — the in-band failure representation
// spec §4.5 requires for a failed per-document extraction.
func WithFailureNote(reason string) *ExtractionFacts {
	f := NewExtractionFacts()
	f.ConfidenceNotes = append(f.ConfidenceNotes, reason)
	return f
}

// QAScore is the evaluation stage's output: a scalar in [0,1] plus findings.
type QAScore struct {
	CompletenessScore float64  `json:"completeness_score"`
	Findings          []string `json:"findings"`
}
