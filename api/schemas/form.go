package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType enumerates the kinds of inputs a form schema can declare.
type FieldType string

const (
	FieldText          FieldType = "text"
	FieldEmail         FieldType = "email"
	FieldPhone         FieldType = "phone"
	FieldSSN           FieldType = "ssn"
	FieldAlienNumber   FieldType = "alien_number"
	FieldNumber        FieldType = "number"
	FieldTextarea      FieldType = "textarea"
	FieldDate          FieldType = "date"
	FieldSelect        FieldType = "select"
	FieldRadio         FieldType = "radio"
	FieldCheckbox      FieldType = "checkbox"
	FieldCheckboxGroup FieldType = "checkbox_group"
)

// Valid reports whether t is one of the declared field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldEmail, FieldPhone, FieldSSN, FieldAlienNumber,
		FieldNumber, FieldTextarea, FieldDate, FieldSelect, FieldRadio,
		FieldCheckbox, FieldCheckboxGroup:
		return true
	}
	return false
}

// ConditionOperator is the comparison applied by a ConditionalDisplay rule.
type ConditionOperator string

const (
	OpEquals    ConditionOperator = "equals"
	OpNotEquals ConditionOperator = "notEquals"
	OpIn        ConditionOperator = "in"
	OpNotIn     ConditionOperator = "notIn"
)

// Valid reports whether op is a supported comparison operator.
func (op ConditionOperator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn:
		return true
	}
	return false
}

// ConditionalDisplay gates the visibility of a field on the value of another
// field, identified by its full path. A hidden field is excluded from every
// downstream artifact.
type ConditionalDisplay struct {
	Field    string            `json:"field"`
	Value    any               `json:"value,omitempty"`
	Values   []any             `json:"values,omitempty"`
	Operator ConditionOperator `json:"operator"`
}

// FieldOption is a value/label pair for select, radio and checkbox-group
// fields. A bare JSON string decodes as both value and label.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// UnmarshalJSON accepts either {"value":..,"label":..} or a bare string.
func (o *FieldOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Value = s
		o.Label = s
		return nil
	}
	type alias FieldOption
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*o = FieldOption(a)
	if o.Label == "" {
		o.Label = o.Value
	}
	return nil
}

// SubField targets a PDF checkbox belonging to a grouped option value.
type SubField struct {
	PDFField string `json:"pdfField"`
}

// FormField is one question of a form section.
type FormField struct {
	ID                 string              `json:"id"`
	Type               FieldType           `json:"type"`
	Label              string              `json:"label"`
	Required           bool                `json:"required,omitempty"`
	Options            []FieldOption       `json:"options,omitempty"`
	PDFField           string              `json:"pdfField,omitempty"`
	SubFields          map[string]SubField `json:"subFields,omitempty"`
	ConditionalDisplay *ConditionalDisplay `json:"conditionalDisplay,omitempty"`
}

// FormSection groups an ordered run of fields.
type FormSection struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Fields      []FormField `json:"fields"`
}

// FormPart is a top-level division of a USCIS form.
type FormPart struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Translations map[string]string `json:"translations,omitempty"`
	Sections     []FormSection     `json:"sections"`
}

// FormSchema is the immutable definition of a form. It is owned by the
// calling form-definition store and never mutated during a mapping run.
type FormSchema struct {
	Code  string     `json:"code"`
	Title string     `json:"title,omitempty"`
	Parts []FormPart `json:"parts"`
}

// FormData is the flat record of entered values, keyed by field path.
// Values may also live under nested part/section objects; consumers try the
// flat key first and fall back to a nested walk.
type FormData map[string]any

// FieldPath builds the canonical identity of a datum.
func FieldPath(partID, sectionID, fieldID string) string {
	return partID + "." + sectionID + "." + fieldID
}

// ParseFormSchema decodes and validates a schema at the system boundary.
func ParseFormSchema(data []byte) (*FormSchema, error) {
	var s FormSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode form schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks structural invariants: non-empty identifiers, known field
// types, well-formed conditional rules, and field-path uniqueness.
func (s *FormSchema) Validate() error {
	if s.Code == "" {
		return fmt.Errorf("form schema is missing a form code")
	}
	seen := make(map[string]struct{})
	for _, part := range s.Parts {
		if part.ID == "" {
			return fmt.Errorf("form %s: part with empty id", s.Code)
		}
		for _, section := range part.Sections {
			if section.ID == "" {
				return fmt.Errorf("form %s: part %s has a section with empty id", s.Code, part.ID)
			}
			for _, field := range section.Fields {
				path := FieldPath(part.ID, section.ID, field.ID)
				if field.ID == "" {
					return fmt.Errorf("form %s: section %s.%s has a field with empty id", s.Code, part.ID, section.ID)
				}
				if !field.Type.Valid() {
					return fmt.Errorf("form %s: field %s has unknown type %q", s.Code, path, field.Type)
				}
				if cd := field.ConditionalDisplay; cd != nil {
					if cd.Field == "" {
						return fmt.Errorf("form %s: field %s conditionalDisplay is missing the dependency path", s.Code, path)
					}
					if !cd.Operator.Valid() {
						return fmt.Errorf("form %s: field %s conditionalDisplay has unknown operator %q", s.Code, path, cd.Operator)
					}
				}
				if _, dup := seen[path]; dup {
					return fmt.Errorf("form %s: duplicate field path %s", s.Code, path)
				}
				seen[path] = struct{}{}
			}
		}
	}
	return nil
}

// FindField resolves a field path back to its schema definition.
func (s *FormSchema) FindField(path string) *FormField {
	segs := strings.SplitN(path, ".", 3)
	if len(segs) != 3 {
		return nil
	}
	for pi := range s.Parts {
		part := &s.Parts[pi]
		if part.ID != segs[0] {
			continue
		}
		for si := range part.Sections {
			section := &part.Sections[si]
			if section.ID != segs[1] {
				continue
			}
			for fi := range section.Fields {
				if section.Fields[fi].ID == segs[2] {
					return &section.Fields[fi]
				}
			}
		}
	}
	return nil
}
