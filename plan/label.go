package plan

import (
	"regexp"
	"strings"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/tabular"
)

// Room labels as they appear on drawings: "Raum 101", "R. 101", "R101",
// storey.room numbers like "1.01" and letter-suffixed numbers like "204A".
// The leading context class keeps abbreviations out of longer words such
// as "Tür" or "Vorraum".
var roomPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[^\p{L}])(?i:Raum)\s+(\d+(?:\.\d+)?[A-Za-z]?)\b`),
	regexp.MustCompile(`(?:^|[^\p{L}])R\.?\s?(\d+(?:\.\d+)?[A-Za-z]?)\b`),
	regexp.MustCompile(`\b(\d+\.\d+)\b`),
	regexp.MustCompile(`\b(\d{1,3}[A-Z])\b`),
}

// Area annotations: "24,5 m²", "24.5 m2", "Fläche: 24,5".
var areaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m²`),
	regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*m2\b`),
	regexp.MustCompile(`(?i:Fläche)\s*[:\s]\s*(\d+(?:[.,]\d+)?)`),
}

// areaMatch is one recognized area annotation with its position in the
// span text, kept so room matching can skip the digits of "24,5 m²".
type areaMatch struct {
	value      float64
	start, end int
}

// findAreas collects all area annotations in a span's text. A value
// matched by several patterns, like "Fläche: 26 m²", counts once.
func findAreas(text string) []areaMatch {
	var out []areaMatch
	for _, re := range areaPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			v, ok := tabular.ParseNumber(text[m[2]:m[3]])
			if !ok || v <= 0 {
				continue
			}
			if overlapsArea(m[0], m[1], out) {
				continue
			}
			out = append(out, areaMatch{value: v, start: m[0], end: m[1]})
		}
	}
	return out
}

// findRooms collects room numbers in a span's text, skipping matches that
// overlap an area annotation so a dimension like "24.5 m²" is never read
// as room 24.5. Numbers are normalized to upper case.
func findRooms(text string, areas []areaMatch) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range roomPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if overlapsArea(m[2], m[3], areas) {
				continue
			}
			nr := strings.ToUpper(strings.TrimSpace(text[m[2]:m[3]]))
			if nr == "" || seen[nr] {
				continue
			}
			seen[nr] = true
			out = append(out, nr)
		}
	}
	return out
}

func overlapsArea(start, end int, areas []areaMatch) bool {
	for _, a := range areas {
		if start < a.end && end > a.start {
			return true
		}
	}
	return false
}

// roomLabel is a room number anchored at its position on the page.
type roomLabel struct {
	number string
	pos    entity.Point
}

// nearestLabel returns the room label closest to p, by Euclidean distance.
func nearestLabel(labels []roomLabel, p entity.Point) (roomLabel, bool) {
	best := -1
	bestDist := 0.0
	for i, l := range labels {
		d := l.pos.Distance(p)
		if best < 0 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return roomLabel{}, false
	}
	return labels[best], true
}
