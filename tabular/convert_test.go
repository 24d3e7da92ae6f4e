package tabular

import (
	"reflect"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"24,5", 24.5, true},
		{"24.5", 24.5, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"1.234.567", 1234567, true},
		{"1,234,567", 1234567, true},
		{"-12,5", -12.5, true},
		{"24,5 m²", 24.5, true},
		{"ca. 300 m³/h", 300, true},
		{"42", 42, true},
		{"", 0, false},
		{"Büro", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseNumber(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in       string
		date1904 bool
		want     string
		ok       bool
	}{
		{"15.03.2026", false, "2026-03-15", true},
		{"1.7.2026", false, "2026-07-01", true},
		{"15.03.26", false, "2026-03-15", true},
		{"2026-03-15", false, "2026-03-15", true},
		{"15/03/2026", false, "2026-03-15", true},
		{"45000", false, "2023-03-15", true},
		{"45000", true, "2027-03-16", true},
		{"0.5", false, "", false},
		{"300000", false, "", false},
		{"KW 12", false, "", false},
		{"24,5", false, "", false},
		{"", false, "", false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.in, tt.date1904)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseDate(%q, %v) = %q, %v, want %q, %v", tt.in, tt.date1904, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitRefs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"T1, T2; T3", []string{"T1", "T2", "T3"}},
		{" Rohbau fertig ", []string{"Rohbau fertig"}},
		{"", nil},
		{" , ; ", nil},
	}

	for _, tt := range tests {
		if got := splitRefs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitRefs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
