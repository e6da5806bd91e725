package chunk

import (
	"encoding/json"
	"reflect"

	"github.com/proculyze/analyzer/pkg/models"
)

// Merge combines per-chunk Extraction Facts into one record, applied
// field-by-field in declaration order (spec §4.4): scalar and
// nested-object fields take the first non-null value encountered; list
// fields are concatenated in order, then deduplicated by content with
// stable order preserved. The merge is associative and deterministic for
// a fixed chunk order.
func Merge(chunks []*models.ExtractionFacts) *models.ExtractionFacts {
	if len(chunks) == 0 {
		return models.NewExtractionFacts()
	}

	out := models.NewExtractionFacts()
	outVal := reflect.ValueOf(out).Elem()
	outType := outVal.Type()

	for i := 0; i < outType.NumField(); i++ {
		field := outType.Field(i)
		outField := outVal.Field(i)

		switch field.Type.Kind() {
		case reflect.Slice:
			mergeListField(outField, chunks, i)
		default:
			mergeScalarField(outField, chunks, i)
		}
	}
	return out
}

// mergeScalarField sets outField to the first non-nil value found at
// field index i across chunks, in order.
func mergeScalarField(outField reflect.Value, chunks []*models.ExtractionFacts, fieldIndex int) {
	for _, c := range chunks {
		if c == nil {
			continue
		}
		v := reflect.ValueOf(c).Elem().Field(fieldIndex)
		if v.Kind() == reflect.Ptr && !v.IsNil() {
			outField.Set(v)
			return
		}
	}
}

// mergeListField concatenates the list field at fieldIndex across chunks
// in order, then deduplicates by canonical content while preserving
// first-seen order.
func mergeListField(outField reflect.Value, chunks []*models.ExtractionFacts, fieldIndex int) {
	combined := reflect.MakeSlice(outField.Type(), 0, 0)

	seen := make(map[string]bool)
	for _, c := range chunks {
		if c == nil {
			continue
		}
		list := reflect.ValueOf(c).Elem().Field(fieldIndex)
		for j := 0; j < list.Len(); j++ {
			item := list.Index(j)
			key := canonicalKey(item.Interface())
			if seen[key] {
				continue
			}
			seen[key] = true
			combined = reflect.Append(combined, item)
		}
	}
	outField.Set(combined)
}

// canonicalKey renders an item's deduplication key: primitives by their
// string form, structs/objects by their canonical (key-sorted)
// serialization, per spec §9's canonicalization resolution using stdlib
// encoding/json, which already sorts map keys on marshal.
func canonicalKey(item any) string {
	raw, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	// round-trip through map[string]any so encoding/json's key-sort
	// applies even when item is a struct (struct field order is fixed by
	// declaration, not content, so route through a generic map first).
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
