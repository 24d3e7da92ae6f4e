package merge

import (
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "inbetriebnahme", "inbetriebnahme", 1},
		{"both empty", "", "", 1},
		{"one empty", "zuluft", "", 0},
		{"disjoint", "abc", "xyz", 0},
		{"shifted", "abcd", "bcde", 0.75},
		{"prefix", "inbetriebnahme_lueftung", "inbetriebnahme_lueftungsanlage", 46.0 / 53.0},
		{"different suffix", "lueftung_sued", "lueftung_nord", 20.0 / 26.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Ratio(tt.b, tt.a); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Ratio(%q, %q) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}
