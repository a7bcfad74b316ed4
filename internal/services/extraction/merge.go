package extraction

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// mergeGroupResults folds per-chunk results for one field group into a
// single record under the typed merge rules. The fold is commutative and
// associative per field, so chunk completion order does not matter.
func mergeGroupResults(group *models.FieldGroup, entityIDFields []string, chunkResults []map[string]interface{}, logger arbor.ILogger) map[string]interface{} {
	if group.IsEntityList {
		return mergeEntityList(entityIDFields, chunkResults)
	}

	merged := make(map[string]interface{}, len(group.Fields))
	for _, field := range group.Fields {
		var value interface{}
		for _, result := range chunkResults {
			raw, ok := result[field.Name]
			if !ok || raw == nil {
				continue
			}
			value = mergeField(&field, value, raw, logger)
		}
		merged[field.Name] = value
	}
	return merged
}

// mergeField combines the accumulator with one chunk's value for a field.
func mergeField(field *models.Field, acc, next interface{}, logger arbor.ILogger) interface{} {
	if acc == nil {
		return next
	}
	switch field.Type {
	case models.FieldTypeBoolean:
		a, _ := acc.(bool)
		b, _ := next.(bool)
		return a || b

	case models.FieldTypeInteger:
		a, aok := acc.(int64)
		b, bok := next.(int64)
		if !aok {
			return next
		}
		if !bok {
			return acc
		}
		if b > a {
			return b
		}
		return a

	case models.FieldTypeFloat:
		a, aok := acc.(float64)
		b, bok := next.(float64)
		if !aok {
			return next
		}
		if !bok {
			return acc
		}
		if b > a {
			return b
		}
		return a

	case models.FieldTypeText:
		a, _ := acc.(string)
		b, _ := next.(string)
		if len(b) > len(a) {
			return b
		}
		return a

	case models.FieldTypeList:
		a, _ := acc.([]interface{})
		b, _ := next.([]interface{})
		return dedupConcat(a, b)

	case models.FieldTypeEnum:
		// First non-null wins; disagreement is worth a log line.
		if acc != next {
			logger.Warn().
				Str("field", field.Name).
				Str("kept", fmt.Sprintf("%v", acc)).
				Str("dropped", fmt.Sprintf("%v", next)).
				Msg("Chunks disagree on enum value")
		}
		return acc
	}
	return acc
}

// dedupConcat concatenates preserving order, dropping values already seen.
func dedupConcat(a, b []interface{}) []interface{} {
	seen := make(map[string]bool, len(a)+len(b))
	var out []interface{}
	for _, list := range [][]interface{}{a, b} {
		for _, v := range list {
			key := fmt.Sprintf("%v", v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// mergeEntityList merges "records" arrays keyed by the first populated id
// field. Later duplicates are dropped; records with no populated id field
// are kept as-is.
func mergeEntityList(entityIDFields []string, chunkResults []map[string]interface{}) map[string]interface{} {
	seen := make(map[string]bool)
	var records []interface{}
	for _, result := range chunkResults {
		raw, ok := result["records"].([]interface{})
		if !ok {
			continue
		}
		for _, item := range raw {
			record, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			key := recordKey(record, entityIDFields)
			if key != "" {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			records = append(records, record)
		}
	}
	return map[string]interface{}{"records": records}
}

// recordKey returns the value of the first populated id field, empty when
// none is set.
func recordKey(record map[string]interface{}, entityIDFields []string) string {
	for _, field := range entityIDFields {
		if v, ok := record[field]; ok && !models.IsEmptyValue(v) {
			return fmt.Sprintf("%s=%v", field, v)
		}
	}
	return ""
}
