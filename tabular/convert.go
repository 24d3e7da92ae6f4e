package tabular

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var numberRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)

// ParseNumber reads the first numeric token from a cell, accepting both
// German (1.234,56) and English (1,234.56) separator conventions and
// ignoring trailing units.
func ParseNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}

	lastDot := strings.LastIndexByte(m, '.')
	lastComma := strings.LastIndexByte(m, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot { // 1.234,56
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else { // 1,234.56
			m = strings.ReplaceAll(m, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(m, ",") > 1 { // 1,234,567
			m = strings.ReplaceAll(m, ",", "")
		} else { // 24,5
			m = strings.Replace(m, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(m, ".") > 1 { // 1.234.567
			m = strings.ReplaceAll(m, ".", "")
		}
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// dateLayouts are tried in order; German day-first forms come before
// slash forms, which are also read day-first.
var dateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"2.1.06",
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
}

// ParseDate reads a cell as a calendar date and returns it in ISO form
// (2006-01-02). Numeric cells are read as spreadsheet serial dates.
func ParseDate(s string, date1904 bool) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}

	// Spreadsheet serial date: days since the epoch.
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return serialDate(serial, date1904)
	}
	return "", false
}

func serialDate(serial float64, date1904 bool) (string, bool) {
	if serial < 1 || serial > 200000 {
		return "", false
	}
	epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	if date1904 {
		epoch = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return epoch.AddDate(0, 0, int(serial)).Format("2006-01-02"), true
}

// splitRefs splits a relation cell ("T1, T2; T3") into its entries.
func splitRefs(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
