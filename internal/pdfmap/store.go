// internal/pdfmap/store.go
package pdfmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirLoader loads template PDFs from a directory, one file per form code
// ("I-130" -> <dir>/I-130.pdf). The form code is sanitized so a crafted code
// cannot escape the template directory.
func DirLoader(dir string) LoaderFunc {
	return func(formCode string) ([]byte, error) {
		name := sanitizeFormCode(formCode)
		if name == "" {
			return nil, fmt.Errorf("invalid form code %q", formCode)
		}
		path := filepath.Join(dir, name+".pdf")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load template for form %s: %w", formCode, err)
		}
		return data, nil
	}
}

func sanitizeFormCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
