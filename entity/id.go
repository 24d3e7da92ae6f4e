package entity

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// germanFold transliterates German characters before generic diacritic folding
// so Lüftung and Lueftung normalize to the same key.
var germanFold = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "ae", "Ö", "oe", "Ü", "ue",
	"ß", "ss",
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeKey lowercases, transliterates German characters, folds remaining
// diacritics and collapses runs of non-alphanumerics to single underscores.
// It is the basis of deterministic entity ids and identity matching.
func NormalizeKey(s string) string {
	s = germanFold.Replace(strings.TrimSpace(s))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true // trim leading separators
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// SpaceID derives the deterministic id for a space from its number or name.
func SpaceID(key string) string { return "raum_" + NormalizeKey(key) }

// PlantID derives the deterministic id for a plant from its name.
func PlantID(key string) string { return "anlage_" + NormalizeKey(key) }

// DeviceID derives the deterministic id for a device from its name.
func DeviceID(key string) string { return "geraet_" + NormalizeKey(key) }

// SeqID builds a sequential id such as anf_0001, scoped per document by the
// callers. Sequential entities (requirements, schedule and service items)
// are unique per occurrence, so a content key would be wrong.
func SeqID(prefix string, n int) string {
	return fmt.Sprintf("%s_%04d", prefix, n)
}
