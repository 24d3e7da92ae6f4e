package doctext

import (
	"regexp"
	"strings"
)

// requirementKeywords mark a sentence as requirement language. The set
// mixes modal markers (muss, soll) with the domain vocabulary that
// appears in building-services briefs.
var requirementKeywords = []string{
	"luftwechsel", "temperatur", "feuchtigkeit", "anforderung", "vorgabe",
	"muss", "soll", "sollte", "erforderlich", "notwendig", "benötigt",
	"luftqualität", "raumklima", "komfort", "energieeffizienz",
}

// mustKeywords and shouldKeywords grade the obligation of a requirement.
var (
	mustKeywords   = []string{"muss", "erforderlich", "notwendig", "zwingend", "kritisch"}
	shouldKeywords = []string{"sollte", "empfohlen", "optional", "wünschenswert"}
)

// categoryKeywords classify a requirement. Ordered; the first match wins.
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"technisch", []string{"luftwechsel", "temperatur", "feuchtigkeit", "luftqualität", "raumklima"}},
	{"organisatorisch", []string{"termin", "abgabe", "freigabe", "koordination"}},
	{"energie", []string{"energieeffizienz", "energie", "verbrauch", "leistung"}},
}

// minRequirementLen filters stray keyword fragments. A heading like
// "Vorgaben" alone is a section marker, not a requirement sentence.
const minRequirementLen = 15

// IsRequirement reports whether a paragraph reads like a requirement
// sentence: long enough to carry meaning and containing requirement
// language. Matching is case-insensitive.
func IsRequirement(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minRequirementLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range requirementKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// obligation grades lowercased requirement text: binding wording is
// "hoch", recommending wording "niedrig", everything else "mittel".
func obligation(lower string) string {
	for _, kw := range mustKeywords {
		if strings.Contains(lower, kw) {
			return "hoch"
		}
	}
	for _, kw := range shouldKeywords {
		if strings.Contains(lower, kw) {
			return "niedrig"
		}
	}
	return "mittel"
}

// classifyRequirement assigns the first matching category, falling back
// to "allgemein".
func classifyRequirement(lower string) string {
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.name
			}
		}
	}
	return "allgemein"
}

var (
	siaNumberRe   = regexp.MustCompile(`sia\s*(\d+)`)
	phaseNumberRe = regexp.MustCompile(`phase\s*(\d+)`)
)

// detectPhase reads a SIA project-phase marker out of lowercased text.
// Named phases win over bare phase numbers.
func detectPhase(lower string) string {
	switch {
	case strings.Contains(lower, "projektierung"):
		return "SIA 103 - Projektierung"
	case strings.Contains(lower, "vorprojekt"):
		return "SIA 104 - Vorprojekt"
	case strings.Contains(lower, "bauprojekt"):
		return "SIA 105 - Bauprojekt"
	}
	if m := siaNumberRe.FindStringSubmatch(lower); m != nil {
		return "SIA " + m[1]
	}
	if m := phaseNumberRe.FindStringSubmatch(lower); m != nil {
		return "SIA " + m[1]
	}
	return ""
}

// isRequirementMarker reports whether a heading announces a requirement
// section. List items under such headings become requirements even
// without requirement wording of their own.
func isRequirementMarker(lower string) bool {
	return strings.Contains(lower, "anforderung") || strings.Contains(lower, "vorgabe")
}

var (
	spaceRefRe = regexp.MustCompile(`(?i)\braum\s+(\d+(?:\.\d+)*[a-zA-Z]?)`)
	plantRefRe = regexp.MustCompile(`(?i)\banlage\s+([\wÄÖÜäöü][\wÄÖÜäöü.\-]*)`)
)

// spaceRefs collects explicit room references ("Raum 101") from text.
func spaceRefs(text string) []string { return matchRefs(spaceRefRe, text) }

// plantRefs collects explicit plant references ("Anlage LA-01") from text.
func plantRefs(text string) []string { return matchRefs(plantRefRe, text) }

func matchRefs(re *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
