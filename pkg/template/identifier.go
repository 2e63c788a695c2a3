package template

import (
	"strings"
	"unicode"
)

// MaxIdentifierLength is the longest project identifier Plane accepts.
const MaxIdentifierLength = 12

// ProjectIdentifier returns the explicit slug uppercased, or one derived
// from the project name: its letters and digits, uppercased, truncated to
// MaxIdentifierLength. A name with no usable characters yields "PROJECT".
func (p *ProjectTemplate) ProjectIdentifier() string {
	if p.Slug != "" {
		return strings.ToUpper(p.Slug)
	}
	return DeriveIdentifier(p.Name)
}

// DeriveIdentifier builds a project identifier from a display name.
func DeriveIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() == MaxIdentifierLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "PROJECT"
	}
	return b.String()
}
