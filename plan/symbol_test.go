package plan

import (
	"strings"
	"testing"
)

func TestDefaultLibrary(t *testing.T) {
	lib := DefaultLibrary()
	if lib.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", lib.Threshold)
	}
	want := map[string]string{
		"lueftungsauslass": kindDevice,
		"heizkoerper":      kindDevice,
		"ventilator":       kindDevice,
		"waermepumpe":      kindPlant,
		"lueftungsanlage":  kindPlant,
		"heizungsanlage":   kindPlant,
	}
	for _, s := range lib.Symbols {
		kind, ok := want[s.Name]
		if !ok {
			continue
		}
		if s.Kind != kind {
			t.Errorf("symbol %q kind = %q, want %q", s.Name, s.Kind, kind)
		}
		delete(want, s.Name)
	}
	for name := range want {
		t.Errorf("symbol %q missing from default library", name)
	}
}

func TestLibraryMatch(t *testing.T) {
	lib := DefaultLibrary()

	tests := []struct {
		text   string
		symbol string
		token  string
		number string
	}{
		{"ZL-01", "lueftungsauslass", "ZL-01", "01"},
		{"Zuluft Decke", "lueftungsauslass", "Zuluft", ""},
		{"ABLUFT 3", "lueftungsauslass", "ABLUFT 3", "3"},
		{"HK 5 an Wand", "heizkoerper", "HK 5", "5"},
		{"Heizkörper Bad", "heizkoerper", "Heizkörper", ""},
		{"VENT-12", "ventilator", "VENT-12", "12"},
		{"WP 2", "waermepumpe", "WP 2", "2"},
		{"LÜA 1", "lueftungsanlage", "LÜA 1", "1"},
		{"Heizzentrale UG", "heizungsanlage", "Heizzentrale", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			hits := lib.match(tt.text)
			if len(hits) != 1 {
				t.Fatalf("match(%q) = %d hits, want 1", tt.text, len(hits))
			}
			h := hits[0]
			if h.symbol.Name != tt.symbol {
				t.Errorf("match(%q) symbol = %q, want %q", tt.text, h.symbol.Name, tt.symbol)
			}
			if h.token != tt.token {
				t.Errorf("match(%q) token = %q, want %q", tt.text, h.token, tt.token)
			}
			if h.number != tt.number {
				t.Errorf("match(%q) number = %q, want %q", tt.text, h.number, tt.number)
			}
		})
	}
}

func TestLibraryMatchRejects(t *testing.T) {
	lib := DefaultLibrary()
	for _, text := range []string{
		"Rabatt 10%",   // ab only lowercase, inside a word
		"HOCHKANT",     // HK inside a word
		"WPL 2",        // WP as prefix of a longer token
		"Maßstab 1:50", // scale annotation
		"Raum 101",
	} {
		if hits := lib.match(text); len(hits) != 0 {
			t.Errorf("match(%q) = %v, want none", text, hits[0].symbol.Name)
		}
	}
}

func TestLibraryMatchMultiple(t *testing.T) {
	lib := DefaultLibrary()
	hits := lib.match("ZL-01 und ZL-02")
	if len(hits) != 2 {
		t.Fatalf("match() = %d hits, want 2", len(hits))
	}
	if hits[0].number != "01" || hits[1].number != "02" {
		t.Errorf("numbers = %q, %q, want 01, 02", hits[0].number, hits[1].number)
	}
}

func TestParseLibraryDefaults(t *testing.T) {
	lib, err := ParseLibrary([]byte(`
symbole:
  - name: probe
    art: geraet
    muster: 'PRB'
`))
	if err != nil {
		t.Fatalf("ParseLibrary() error = %v", err)
	}
	if lib.Threshold != defaultThreshold {
		t.Errorf("Threshold = %v, want %v", lib.Threshold, defaultThreshold)
	}
	s := lib.Symbols[0]
	if s.Confidence != defaultConfidence {
		t.Errorf("Confidence = %v, want %v", s.Confidence, defaultConfidence)
	}
	if s.Display != "probe" {
		t.Errorf("Display = %q, want %q", s.Display, "probe")
	}
}

func TestParseLibraryErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no symbols",
			yaml: "schwelle: 0.5\n",
			want: "no symbols",
		},
		{
			name: "missing name",
			yaml: "symbole:\n  - art: geraet\n    muster: X\n",
			want: "name missing",
		},
		{
			name: "bad kind",
			yaml: "symbole:\n  - name: x\n    art: sonstiges\n    muster: X\n",
			want: "kind",
		},
		{
			name: "missing pattern",
			yaml: "symbole:\n  - name: x\n    art: geraet\n",
			want: "pattern missing",
		},
		{
			name: "bad pattern",
			yaml: "symbole:\n  - name: x\n    art: geraet\n    muster: '('\n",
			want: "symbol",
		},
		{
			name: "not yaml",
			yaml: "[unclosed",
			want: "parse symbol library",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLibrary([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("ParseLibrary() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseLibrary() error = %q, want substring %q", err, tt.want)
			}
		})
	}
}
