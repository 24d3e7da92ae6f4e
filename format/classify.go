package format

import (
	"regexp"
	"strings"
)

// planKeywords mark a file as a plan drawing rather than a text document.
var planKeywords = []string{
	"grundriss", "plan", "schnitt", "ansicht", "detail", "schema", "layout",
}

// disciplineKeywords map filename fragments to building-services
// disciplines. Ordered so a filename matching several fragments resolves
// deterministically.
var disciplineKeywords = []struct {
	name     string
	keywords []string
}{
	{"lueftung", []string{"lueftung", "lüftung", "ventilation", "rlt"}},
	{"heizung", []string{"heizung", "heating", "hzg"}},
	{"kaelte", []string{"kaelte", "kälte", "cooling", "klt"}},
	{"sanitaer", []string{"sanitaer", "sanitär", "sanitary"}},
	{"sprinkler", []string{"sprinkler"}},
	{"elektro", []string{"elektro", "electrical"}},
}

var revisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[_\-]revision[\s_\-]?([a-z0-9]+)`),
	regexp.MustCompile(`(?i)[_\-]rev[\s_\-]?([a-z]\d*|\d+)(?:[._\-]|$)`),
	regexp.MustCompile(`(?i)[_\-]index[\s_\-]?([a-z])(?:[._\-]|$)`),
	regexp.MustCompile(`(?i)[_\-]v(\d+)(?:[._\-]|$)`),
}

// IsPlan reports whether a filename looks like a plan drawing.
// PDF files matching this get the symbol recognition pass.
func IsPlan(filename string) bool {
	lower := strings.ToLower(filename)
	for _, kw := range planKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Discipline guesses the building-services discipline from the filename.
// Returns "" when no discipline keyword matches.
func Discipline(filename string) string {
	lower := strings.ToLower(filename)
	for _, d := range disciplineKeywords {
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				return d.name
			}
		}
	}
	return ""
}

// Revision extracts a revision marker (rev B, _v3, index c) from the
// filename. Returns "" when none is found.
func Revision(filename string) string {
	for _, re := range revisionPatterns {
		if m := re.FindStringSubmatch(filename); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}
