package discovery

import (
	"fmt"
	"strings"
	"unicode"
)

// Reference is a parsed loader reference: "module/path:Attribute"
type Reference struct {
	Module    string
	Attribute string
}

func (r Reference) String() string {
	return r.Module + ":" + r.Attribute
}

// ParseReference parses a loader reference. The module part may itself
// contain colons only when it is a Windows-style path, so the attribute is
// taken after the last colon.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Reference{}, fmt.Errorf("malformed loader reference %q: expected module:Attribute", s)
	}

	ref := Reference{Module: strings.TrimSpace(s[:i]), Attribute: strings.TrimSpace(s[i+1:])}
	if ref.Module == "" {
		return Reference{}, fmt.Errorf("malformed loader reference %q: empty module", s)
	}
	if !isIdentifier(ref.Attribute) {
		return Reference{}, fmt.Errorf("malformed loader reference %q: %q is not an identifier", s, ref.Attribute)
	}
	return ref, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
