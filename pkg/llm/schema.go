package llm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav6 "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/proculyze/analyzer/pkg/models"
)

// factsSchema is derived once from models.ExtractionFacts and reused for
// every request, per SPEC_FULL's "declared once, derived twice" design
// note: the same struct is the source of truth for both the wire schema
// sent to strict-schema providers and the validator that checks
// responses from every provider family.
var factsSchema = sync.OnceValues(func() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&models.ExtractionFacts{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal derived schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode derived schema: %w", err)
	}
	cleanSchema(m)
	return m, nil
})

// cleanSchema strips fields providers reject from a strict JSON Schema
// request (title, description, default) and injects
// additionalProperties:false at every object level, recursively — spec
// §4.2's schema cleaning step.
func cleanSchema(node map[string]any) {
	delete(node, "title")
	delete(node, "description")
	delete(node, "default")
	delete(node, "$schema")
	delete(node, "$id")

	if t, ok := node["type"]; ok && t == "object" {
		node["additionalProperties"] = false
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			if child, ok := v.(map[string]any); ok {
				cleanSchema(child)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		cleanSchema(items)
	}
	if defs, ok := node["$defs"].(map[string]any); ok {
		for _, v := range defs {
			if child, ok := v.(map[string]any); ok {
				cleanSchema(child)
			}
		}
	}
}

// ExtractionFactsSchema returns the cleaned JSON Schema for
// models.ExtractionFacts, suitable for a strict-schema provider's
// response_format.
func ExtractionFactsSchema() (map[string]any, error) {
	return factsSchema()
}

// compactTypeHint renders a short, human-readable type description
// appended to the prompt for json-object-only ("anthropic-family")
// providers, which cannot take a JSON Schema in response_format and must
// be told the expected shape inline instead (spec §4.2).
func compactTypeHint() string {
	return `Respond with a single JSON object with exactly these top-level keys: ` +
		`title, summary, procurement_type (strings or null), value (object with ` +
		`amount, currency, includes_vat or null), organization (name, code, ` +
		`address, contact), financial_terms (payment_terms, estimated_cost, ` +
		`guarantee), submission_requirements (method, location, language), ` +
		`deadlines (list of {label, date}), requirements (list of {description, ` +
		`mandatory}), evaluation_criteria (list of {name, weight}), risks (list ` +
		`of {description, severity}), qualifications (list of {description}), ` +
		`source_references (list of {filename, page, excerpt}), confidence_notes ` +
		`(list of strings). Omit no key; use null or an empty list when a field ` +
		`does not apply. Return JSON only, no prose, no markdown fence.`
}

// validator compiles the derived schema once for runtime response
// validation against every provider family's output, regardless of
// whether that provider was given the schema up front.
var validator = sync.OnceValues(func() (*jsonschemav6.Schema, error) {
	schema, err := ExtractionFactsSchema()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for compilation: %w", err)
	}
	c := jsonschemav6.NewCompiler()
	if err := c.AddResource("extraction-facts.json", mustUnmarshalAny(raw)); err != nil {
		return nil, fmt.Errorf("failed to register schema resource: %w", err)
	}
	return c.Compile("extraction-facts.json")
})

func mustUnmarshalAny(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		panic(err)
	}
	return v
}

// ValidateExtractionFacts checks raw (the provider's JSON response body)
// against the derived schema.
func ValidateExtractionFacts(raw []byte) error {
	return validate(validator, raw)
}

// qaScoreSchema is the evaluate stage's "declared once, derived twice"
// counterpart for models.QAScore — the evaluation stage's structured
// output is a different shape than the extraction/aggregation stages', so
// it gets its own derived schema and validator rather than overloading
// the extraction facts one.
var qaScoreSchema = sync.OnceValues(func() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(&models.QAScore{})
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal derived QA score schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode derived QA score schema: %w", err)
	}
	cleanSchema(m)
	return m, nil
})

// QAScoreSchema returns the cleaned JSON Schema for models.QAScore.
func QAScoreSchema() (map[string]any, error) {
	return qaScoreSchema()
}

// qaTypeHint is compactTypeHint's counterpart for json-object-only
// providers evaluating a merged report.
func qaTypeHint() string {
	return `Respond with a single JSON object with exactly these top-level keys: ` +
		`completeness_score (number between 0 and 1), findings (list of strings). ` +
		`Return JSON only, no prose, no markdown fence.`
}

var qaValidator = sync.OnceValues(func() (*jsonschemav6.Schema, error) {
	schema, err := QAScoreSchema()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal QA score schema for compilation: %w", err)
	}
	c := jsonschemav6.NewCompiler()
	if err := c.AddResource("qa-score.json", mustUnmarshalAny(raw)); err != nil {
		return nil, fmt.Errorf("failed to register QA score schema resource: %w", err)
	}
	return c.Compile("qa-score.json")
})

// ValidateQAScore checks raw against the derived QAScore schema.
func ValidateQAScore(raw []byte) error {
	return validate(qaValidator, raw)
}

func validate(compiled func() (*jsonschemav6.Schema, error), raw []byte) error {
	v, err := compiled()
	if err != nil {
		return fmt.Errorf("failed to compile validator: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := v.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}
