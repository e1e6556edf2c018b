// internal/pdfmap/mapper.go
// The PDF mapper shares the flattener's traversal and visibility rules but
// targets AcroForm field names instead of page selectors. A single bad value
// never blocks the rest of the document.
package pdfmap

import (
	"strings"
	"time"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/fieldmap"
)

// FieldValue is the tagged string-or-bool written into an AcroForm field.
type FieldValue struct {
	Text    string
	Checked bool
	IsBool  bool
}

// Text returns a textual field value.
func Text(s string) FieldValue { return FieldValue{Text: s} }

// Checked returns a checkbox field value.
func Checked(b bool) FieldValue { return FieldValue{Checked: b, IsBool: true} }

// Stats counts how the schema's visible, valued fields fared: Mapped fields
// produced at least one PDF entry; Skipped fields had a value but no usable
// PDF target in the template mapping.
type Stats struct {
	Mapped  int
	Skipped int
}

// MapFields walks the schema and produces the AcroForm name -> value record.
// Fields without a PDF target, hidden fields, and empty values are omitted.
// Selected checkbox-group values without a matching sub-field are silently
// dropped: PDF templates are not assumed to carry every option.
func MapFields(schema *schemas.FormSchema, data schemas.FormData) map[string]FieldValue {
	out, _ := MapFieldsStats(schema, data)
	return out
}

// MapFieldsStats is MapFields plus per-field accounting for the artifact
// boundary's filled/skipped tallies.
func MapFieldsStats(schema *schemas.FormSchema, data schemas.FormData) (map[string]FieldValue, Stats) {
	out := make(map[string]FieldValue)
	var stats Stats

	for _, part := range schema.Parts {
		for _, section := range part.Sections {
			for _, field := range section.Fields {
				path := schemas.FieldPath(part.ID, section.ID, field.ID)

				if !fieldmap.IsVisible(field.ConditionalDisplay, data) {
					continue
				}
				raw := fieldmap.LookupValue(data, path)
				if raw == nil || fieldmap.ValueToString(raw) == "" {
					continue
				}

				before := len(out)
				mapField(&field, raw, out)
				if len(out) > before {
					stats.Mapped++
				} else {
					stats.Skipped++
				}
			}
		}
	}

	return out, stats
}

func mapField(field *schemas.FormField, raw any, out map[string]FieldValue) {
	switch field.Type {
	case schemas.FieldCheckboxGroup:
		for _, sel := range selectedValues(raw) {
			sub, ok := field.SubFields[sel]
			if !ok || sub.PDFField == "" {
				continue
			}
			out[sub.PDFField] = Checked(true)
		}

	case schemas.FieldCheckbox:
		if fieldmap.IsTruthy(raw) && field.PDFField != "" {
			out[field.PDFField] = Checked(true)
		}

	case schemas.FieldRadio, schemas.FieldSelect:
		value := fieldmap.ValueToString(raw)
		if value == "" {
			return
		}
		if len(field.SubFields) > 0 {
			// Single-selection checkbox group embedded in the PDF: exactly
			// the one matching sub-field is checked.
			if sub, ok := field.SubFields[value]; ok && sub.PDFField != "" {
				out[sub.PDFField] = Checked(true)
			}
			return
		}
		if field.PDFField != "" {
			out[field.PDFField] = Text(value)
		}

	case schemas.FieldDate:
		if field.PDFField == "" {
			return
		}
		if value := FormatDate(fieldmap.ValueToString(raw)); value != "" {
			out[field.PDFField] = Text(value)
		}

	case schemas.FieldSSN, schemas.FieldAlienNumber:
		writeText(field, fieldmap.DigitsOnly(fieldmap.ValueToString(raw), 9), out)

	case schemas.FieldPhone:
		writeText(field, fieldmap.DigitsOnly(fieldmap.ValueToString(raw), 10), out)

	default:
		writeText(field, fieldmap.ValueToString(raw), out)
	}
}

func writeText(field *schemas.FormField, value string, out map[string]FieldValue) {
	if field.PDFField == "" || value == "" {
		return
	}
	out[field.PDFField] = Text(value)
}

// selectedValues interprets a checkbox-group value as either an array or a
// comma-separated string.
func selectedValues(raw any) []string {
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		vals := make([]string, 0, len(t))
		for _, item := range t {
			if s := fieldmap.ValueToString(item); s != "" {
				vals = append(vals, s)
			}
		}
		return vals
	case string:
		parts := strings.Split(t, ",")
		vals := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				vals = append(vals, p)
			}
		}
		return vals
	default:
		return nil
	}
}

// genericDateLayouts are tried, in order, for input that is neither
// MM/DD/YYYY nor ISO.
var genericDateLayouts = []string{
	"2006/01/02",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// FormatDate renders a date as MM/DD/YYYY. Already-correct input passes
// through (keeping the formatter idempotent); ISO input converts; anything
// else goes through generic parsing; unparseable input passes through
// unchanged rather than failing the document.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if isUSDate(s) {
		return s
	}

	if converted := fieldmap.FormatWebDate(s); converted != s {
		return converted
	}

	for _, layout := range genericDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("01/02/2006")
		}
	}

	return s
}

func isUSDate(s string) bool {
	if len(s) != 10 || s[2] != '/' || s[5] != '/' {
		return false
	}
	for i, r := range s {
		if i == 2 || i == 5 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
