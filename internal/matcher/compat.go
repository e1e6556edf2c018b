// internal/matcher/compat.go
package matcher

import (
	"strconv"
	"strings"

	"github.com/ezmig/formpilot/api/schemas"
)

// isTypeCompatible reports whether a DOM element can plausibly host a field of
// the given input type. USCIS renders the same logical control inconsistently
// across pages (a radio group may be native inputs, a <select>, or a styled
// div widget), so compatibility is deliberately loose.
func isTypeCompatible(input schemas.InputType, dom schemas.DOMFieldInfo) bool {
	tag := strings.ToLower(dom.TagName)
	typ := strings.ToLower(dom.Type)

	switch input {
	case schemas.InputRadio:
		return typ == "radio" || tag == "select" || tag == "div" || tag == "span" || tag == "button"
	case schemas.InputSelect:
		return tag == "select" || tag == "div" || tag == "button" || tag == "input"
	case schemas.InputCheckbox:
		return typ == "checkbox" || tag == "div" || tag == "span" || tag == "button"
	case schemas.InputDate:
		return tag == "input" && (typ == "" || typ == "date" || typ == "text")
	default:
		return tag == "input" || tag == "textarea"
	}
}

// selectorFor builds a concrete locator for a DOM field, preferring the most
// stable attribute the extractor reported.
func selectorFor(dom schemas.DOMFieldInfo) string {
	if dom.ID != "" {
		return "#" + dom.ID
	}
	if dom.Name != "" {
		return `[name="` + dom.Name + `"]`
	}
	return `[data-ezmig-idx="` + strconv.Itoa(dom.Index) + `"]`
}

// domForSelector inverts selectorFor: it maps a model-returned locator back to
// the snapshot field it names, so LLM-sourced matches regain access to the
// field's enumerated options. Selectors that name no snapshot field return nil.
func domForSelector(selector string, domFields []schemas.DOMFieldInfo) *schemas.DOMFieldInfo {
	for i := range domFields {
		dom := &domFields[i]
		// Accept any of the three locator forms, not just the one selectorFor
		// would prefer for this field.
		switch {
		case dom.ID != "" && selector == "#"+dom.ID:
			return dom
		case dom.Name != "" && selector == `[name="`+dom.Name+`"]`:
			return dom
		case selector == `[data-ezmig-idx="`+strconv.Itoa(dom.Index)+`"]`:
			return dom
		}
	}
	return nil
}
