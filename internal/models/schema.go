package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType enumerates the supported field value types.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeInteger FieldType = "integer"
	FieldTypeFloat   FieldType = "float"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeList    FieldType = "list"
)

// ExtractionSchema is an ordered list of field groups. Stored as JSON at
// rest; compiled into this typed structure at load time.
type ExtractionSchema struct {
	FieldGroups []FieldGroup `json:"field_groups"`
}

// FieldGroup is a named, typed record of related fields extracted in one LM
// call.
type FieldGroup struct {
	Name         string  `json:"name"` // unique within project
	Description  string  `json:"description"`
	IsEntityList bool    `json:"is_entity_list"`
	PromptHint   string  `json:"prompt_hint,omitempty"`
	Fields       []Field `json:"fields"`
}

// Field is a single typed slot within a field group.
type Field struct {
	Name        string      `json:"name"`
	Type        FieldType   `json:"type"`
	EnumValues  []string    `json:"enum_values,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Description string      `json:"description"`
}

// Validate checks schema structure: unique group names, known field types,
// enum values present where needed.
func (s *ExtractionSchema) Validate() error {
	groupNames := make(map[string]bool)
	for _, g := range s.FieldGroups {
		if g.Name == "" {
			return fmt.Errorf("field group with empty name")
		}
		if groupNames[g.Name] {
			return fmt.Errorf("duplicate field group %q", g.Name)
		}
		groupNames[g.Name] = true

		if len(g.Fields) == 0 {
			return fmt.Errorf("field group %q has no fields", g.Name)
		}
		fieldNames := make(map[string]bool)
		for _, f := range g.Fields {
			if f.Name == "" {
				return fmt.Errorf("field group %q: field with empty name", g.Name)
			}
			if fieldNames[f.Name] {
				return fmt.Errorf("field group %q: duplicate field %q", g.Name, f.Name)
			}
			fieldNames[f.Name] = true

			switch f.Type {
			case FieldTypeText, FieldTypeInteger, FieldTypeFloat, FieldTypeBoolean, FieldTypeList:
			case FieldTypeEnum:
				if len(f.EnumValues) == 0 {
					return fmt.Errorf("field group %q: enum field %q has no enum_values", g.Name, f.Name)
				}
			default:
				return fmt.Errorf("field group %q: field %q has unknown type %q", g.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// GroupByName returns the field group with the given name.
func (s *ExtractionSchema) GroupByName(name string) (FieldGroup, bool) {
	for _, g := range s.FieldGroups {
		if g.Name == name {
			return g, true
		}
	}
	return FieldGroup{}, false
}

// FieldByName returns the field with the given name.
func (g *FieldGroup) FieldByName(name string) (Field, bool) {
	for _, f := range g.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Coerce converts a raw LM output value to the field's type. Coercion is
// tolerant for unambiguous string<->number cases and structure-strict
// otherwise: a value that cannot be coerced returns an error and the caller
// drops the field.
func (f *Field) Coerce(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch f.Type {
	case FieldTypeText:
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return nil, fmt.Errorf("field %s: cannot coerce %T to text", f.Name, value)
		}

	case FieldTypeInteger:
		switch v := value.(type) {
		case float64:
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return nil, nil
			}
			n, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				// Accept "12000.0" style values from the model.
				fl, ferr := strconv.ParseFloat(trimmed, 64)
				if ferr != nil {
					return nil, fmt.Errorf("field %s: cannot coerce %q to integer", f.Name, v)
				}
				return int64(fl), nil
			}
			return n, nil
		default:
			return nil, fmt.Errorf("field %s: cannot coerce %T to integer", f.Name, value)
		}

	case FieldTypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return nil, nil
			}
			fl, err := strconv.ParseFloat(trimmed, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: cannot coerce %q to float", f.Name, v)
			}
			return fl, nil
		default:
			return nil, fmt.Errorf("field %s: cannot coerce %T to float", f.Name, value)
		}

	case FieldTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes":
				return true, nil
			case "false", "no":
				return false, nil
			case "":
				return nil, nil
			}
			return nil, fmt.Errorf("field %s: cannot coerce %q to boolean", f.Name, v)
		default:
			return nil, fmt.Errorf("field %s: cannot coerce %T to boolean", f.Name, value)
		}

	case FieldTypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s: cannot coerce %T to enum", f.Name, value)
		}
		for _, allowed := range f.EnumValues {
			if strings.EqualFold(s, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("field %s: %q is not one of %v", f.Name, s, f.EnumValues)

	case FieldTypeList:
		switch v := value.(type) {
		case []interface{}:
			return v, nil
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, nil
			}
			// Single item emitted without array wrapper.
			return []interface{}{v}, nil
		default:
			return nil, fmt.Errorf("field %s: cannot coerce %T to list", f.Name, value)
		}
	}

	return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
}

// IsEmptyValue reports whether a field value carries no information.
func IsEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}
