// internal/fieldmap/selectors.go
package fieldmap

import (
	"regexp"
	"strings"

	"github.com/ezmig/formpilot/api/schemas"
)

var (
	// pdfArtifactRegex strips AcroForm path artifacts like "[0]" and "#subform".
	pdfArtifactRegex = regexp.MustCompile(`\[\d+\]|#\w+`)
	wordRegex        = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// BuildSelectorHints derives best-effort selector breadcrumbs for the
// matcher. They are hints, never guarantees: the live page carries no stable
// identifiers, so each hint is just a substring likely to survive a redesign.
func BuildSelectorHints(field schemas.FormField) []string {
	var hints []string

	if name := CleanPDFFieldName(field.PDFField); name != "" {
		hints = append(hints,
			`[name*="`+name+`"]`,
			`[id*="`+name+`"]`,
		)
	}

	if phrase := labelPhrase(field.Label, 3); phrase != "" {
		hints = append(hints,
			`[aria-label*="`+phrase+`" i]`,
			`[placeholder*="`+phrase+`" i]`,
		)
	}

	return hints
}

// CleanPDFFieldName reduces an AcroForm field name to its meaningful tail:
// "form1[0].#subform[0].Pt1Line1a_FamilyName[0]" becomes
// "Pt1Line1a_FamilyName".
func CleanPDFFieldName(name string) string {
	if name == "" {
		return ""
	}
	cleaned := pdfArtifactRegex.ReplaceAllString(name, "")
	cleaned = strings.Trim(cleaned, ".")
	if idx := strings.LastIndex(cleaned, "."); idx != -1 {
		cleaned = cleaned[idx+1:]
	}
	return strings.TrimSpace(cleaned)
}

// labelPhrase returns the first n words of a label, cleaned to
// alphanumerics.
func labelPhrase(label string, n int) string {
	words := wordRegex.FindAllString(label, n)
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, " ")
}
