// internal/fieldmap/flatten.go
// The flattener walks a form schema and its data record and produces the flat
// list of "fields to fill" that every matching strategy consumes. Output
// order is schema order (Part, Section, Field) and is relied on downstream as
// a deterministic tie-break for ambiguous matches.
package fieldmap

import (
	"fmt"
	"strings"

	"github.com/ezmig/formpilot/api/schemas"
)

// Flatten produces one WebFieldMapping per visible, non-empty field, in
// schema order. A field hidden by its conditionalDisplay rule is excluded
// here and therefore from every downstream artifact.
func Flatten(schema *schemas.FormSchema, data schemas.FormData) []schemas.WebFieldMapping {
	var out []schemas.WebFieldMapping
	for _, part := range schema.Parts {
		for _, section := range part.Sections {
			for _, field := range section.Fields {
				path := schemas.FieldPath(part.ID, section.ID, field.ID)

				if !IsVisible(field.ConditionalDisplay, data) {
					continue
				}

				raw := LookupValue(data, path)
				if isEmpty(raw) {
					continue
				}

				value := FormatValue(field.Type, raw)
				if value == "" {
					continue
				}

				out = append(out, schemas.WebFieldMapping{
					FieldPath: path,
					Label:     field.Label,
					Value:     value,
					InputType: ClassifyInput(field.Type),
					Selectors: BuildSelectorHints(field),
				})
			}
		}
	}
	return out
}

// IsVisible evaluates a conditionalDisplay rule against the same formData
// snapshot used for flattening. A nil rule is always visible.
func IsVisible(cd *schemas.ConditionalDisplay, data schemas.FormData) bool {
	if cd == nil {
		return true
	}

	dep := normalize(LookupValue(data, cd.Field))

	switch cd.Operator {
	case schemas.OpEquals:
		return dep == normalize(cd.Value)
	case schemas.OpNotEquals:
		return dep != normalize(cd.Value)
	case schemas.OpIn:
		return containsNormalized(cd.Values, dep)
	case schemas.OpNotIn:
		return !containsNormalized(cd.Values, dep)
	default:
		// Unknown operators are rejected at schema parse; treat a stray one
		// as "visible" so a bad rule cannot silently drop data.
		return true
	}
}

// LookupValue resolves a field path against the data record, trying the
// pre-flattened flat key first and falling back to a nested-object walk.
func LookupValue(data schemas.FormData, path string) any {
	if v, ok := data[path]; ok {
		return v
	}

	// Nested walk: part -> section -> field objects.
	var cur any = map[string]any(data)
	for _, seg := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// isEmpty reports whether a raw value carries no data worth acting on.
// "Don't act" is always safer than "act on empty data".
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

// normalize renders a value into a comparable string form.
func normalize(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func containsNormalized(values []any, target string) bool {
	for _, v := range values {
		if normalize(v) == target {
			return true
		}
	}
	return false
}

// ClassifyInput maps a schema field type onto the page-interaction class.
func ClassifyInput(t schemas.FieldType) schemas.InputType {
	switch t {
	case schemas.FieldSelect:
		return schemas.InputSelect
	case schemas.FieldRadio:
		return schemas.InputRadio
	case schemas.FieldCheckbox, schemas.FieldCheckboxGroup:
		return schemas.InputCheckbox
	case schemas.FieldDate:
		return schemas.InputDate
	default:
		return schemas.InputText
	}
}
