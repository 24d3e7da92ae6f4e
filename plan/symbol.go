package plan

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed symbols.yaml
var builtinSymbols []byte

const (
	kindDevice = "geraet"
	kindPlant  = "anlage"

	defaultThreshold  = 0.7
	defaultConfidence = 0.5
)

// Symbol is one drawing annotation the plan extractor recognizes.
type Symbol struct {
	// Name keys the entity kind a hit produces, e.g. "heizkoerper".
	Name string `yaml:"name"`
	// Display is the label used to name hits that carry no tag number.
	Display string `yaml:"anzeige"`
	// Kind is "geraet" or "anlage".
	Kind string `yaml:"art"`
	// Pattern matches the symbol's text annotation. An optional first
	// capture group carries the tag number.
	Pattern string `yaml:"muster"`
	// Confidence is the base confidence of a hit, 0..1.
	Confidence float64 `yaml:"konfidenz"`

	re *regexp.Regexp
}

// Library is a symbol set together with the confidence threshold below
// which hits are marked unconfirmed.
type Library struct {
	Threshold float64  `yaml:"schwelle"`
	Symbols   []Symbol `yaml:"symbole"`
}

// ParseLibrary reads a YAML symbol library and compiles its patterns.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse symbol library: %w", err)
	}
	if len(lib.Symbols) == 0 {
		return nil, fmt.Errorf("symbol library defines no symbols")
	}
	if lib.Threshold <= 0 || lib.Threshold > 1 {
		lib.Threshold = defaultThreshold
	}
	for i := range lib.Symbols {
		s := &lib.Symbols[i]
		if s.Name == "" {
			return nil, fmt.Errorf("symbol %d: name missing", i+1)
		}
		if s.Kind != kindDevice && s.Kind != kindPlant {
			return nil, fmt.Errorf("symbol %q: kind must be %q or %q, got %q", s.Name, kindDevice, kindPlant, s.Kind)
		}
		if s.Pattern == "" {
			return nil, fmt.Errorf("symbol %q: pattern missing", s.Name)
		}
		if s.Display == "" {
			s.Display = s.Name
		}
		if s.Confidence <= 0 || s.Confidence > 1 {
			s.Confidence = defaultConfidence
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", s.Name, err)
		}
		s.re = re
	}
	return &lib, nil
}

// LoadLibrary reads a symbol library from a YAML file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol library: %w", err)
	}
	return ParseLibrary(data)
}

// DefaultLibrary returns the built-in HVAC symbol set.
func DefaultLibrary() *Library {
	lib, err := ParseLibrary(builtinSymbols)
	if err != nil {
		panic(fmt.Sprintf("plan: built-in symbol library: %v", err))
	}
	return lib
}

// symbolHit is one symbol pattern match inside a span's text.
type symbolHit struct {
	symbol *Symbol
	token  string
	number string
}

// match runs every symbol pattern over the text and collects all hits.
func (l *Library) match(text string) []symbolHit {
	var hits []symbolHit
	for i := range l.Symbols {
		s := &l.Symbols[i]
		for _, m := range s.re.FindAllStringSubmatchIndex(text, -1) {
			hit := symbolHit{symbol: s, token: strings.TrimRight(text[m[0]:m[1]], " -")}
			if len(m) >= 4 && m[2] >= 0 {
				hit.number = text[m[2]:m[3]]
			}
			hits = append(hits, hit)
		}
	}
	return hits
}
