// internal/matcher/prompts.go
package matcher

import (
	"fmt"
	"strings"

	"github.com/ezmig/formpilot/api/schemas"
)

const tierMatchSystemPrompt = `You map immigration form fields to elements on a USCIS web page.
You are given a list of form fields and a list of page elements with their attributes.
Return ONLY a JSON array, one entry per field you can match, shaped as:
[{"fieldPath": "...", "selector": "...", "inputType": "text|select|radio|checkbox|date|click-element|click-sequence", "confidence": 0.0}]
The selector must be a CSS selector that uniquely locates the element (prefer #id, then [name="..."]).
Set confidence between 0 and 1. Omit fields you cannot confidently match. Do not invent elements.`

const valueResolveSystemPrompt = `You translate internal form option identifiers into the option text a web page actually displays.
For each field you are given the internal value and the page's available options.
Return ONLY a JSON array shaped as:
[{"fieldPath": "...", "resolvedValue": "...", "confidence": 0.0}]
resolvedValue must be copied verbatim from one of the listed options (the part after "=" when an option is encoded value=label).
Omit fields with no plausible option. Do not invent options.`

const fullPageSystemPrompt = `You map immigration form fields onto a USCIS web page given its full HTML.
Every interactive element in the HTML carries a data-ezmig-idx attribute.
Return ONLY a JSON array, one entry per field you can locate, shaped as:
[{"fieldPath": "...", "selector": "[data-ezmig-idx=\"N\"]", "inputType": "text|select|radio|checkbox|date|click-element|click-sequence", "optionText": "...", "clickSequence": [], "confidence": 0.0}]
Rules:
- Selectors must be exclusively of the form [data-ezmig-idx="N"]. Never return any other selector shape.
- Use click-element for controls built from divs or spans that need a single click, and click-sequence (with clickSequence listing the selectors in order) for controls that open on one click and select on another.
- For select and radio targets, set optionText to the exact visible text of the option matching the field's value.
- Set confidence between 0 and 1. Omit fields you cannot locate. Do not invent elements.`

func buildTierMatchPrompt(fields []schemas.WebFieldMapping, domFields []schemas.DOMFieldInfo) string {
	var b strings.Builder

	b.WriteString("FORM FIELDS TO MATCH:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- fieldPath: %s | label: %s | inputType: %s | value: %s\n",
			f.FieldPath, f.Label, f.InputType, f.Value)
	}

	b.WriteString("\nPAGE ELEMENTS:\n")
	for _, d := range domFields {
		fmt.Fprintf(&b, "- tag: %s", d.TagName)
		if d.Type != "" {
			fmt.Fprintf(&b, " | type: %s", d.Type)
		}
		if d.ID != "" {
			fmt.Fprintf(&b, " | id: %s", d.ID)
		}
		if d.Name != "" {
			fmt.Fprintf(&b, " | name: %s", d.Name)
		}
		if d.AriaLabel != "" {
			fmt.Fprintf(&b, " | aria-label: %s", d.AriaLabel)
		}
		if len(d.Labels) > 0 {
			fmt.Fprintf(&b, " | labels: %s", strings.Join(d.Labels, "; "))
		}
		if d.Placeholder != "" {
			fmt.Fprintf(&b, " | placeholder: %s", d.Placeholder)
		}
		if d.NearbyText != "" {
			fmt.Fprintf(&b, " | nearby: %s", d.NearbyText)
		}
		if len(d.Options) > 0 {
			fmt.Fprintf(&b, " | options: %s", strings.Join(d.Options, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nReturn the JSON array of matches now.")
	return b.String()
}

func buildValueResolvePrompt(unresolved []*matchResult) string {
	var b strings.Builder

	b.WriteString("FIELDS NEEDING OPTION RESOLUTION:\n")
	for _, res := range unresolved {
		fmt.Fprintf(&b, "- fieldPath: %s | label: %s | internal value: %s | options: %s\n",
			res.mapping.FieldPath, res.mapping.Label, res.mapping.Value,
			strings.Join(res.dom.Options, "; "))
	}

	b.WriteString("\nReturn the JSON array of resolutions now.")
	return b.String()
}

func buildFullPagePrompt(fields []enrichedField, pageHTML string) string {
	var b strings.Builder

	b.WriteString("FORM FIELDS TO LOCATE:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "- fieldPath: %s | label: %s", f.FieldPath, f.Label)
		if f.FallbackLabel != "" && f.FallbackLabel != f.Label {
			fmt.Fprintf(&b, " | alternate label: %s", f.FallbackLabel)
		}
		fmt.Fprintf(&b, " | inputType: %s | value: %s", f.InputType, f.Value)
		if len(f.Options) > 0 {
			fmt.Fprintf(&b, " | options: %s", strings.Join(f.Options, "; "))
		}
		if f.Hints != "" {
			fmt.Fprintf(&b, " | selector hints: %s", f.Hints)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nPAGE HTML:\n")
	b.WriteString(pageHTML)
	b.WriteString("\n\nReturn the JSON array of mappings now.")
	return b.String()
}
