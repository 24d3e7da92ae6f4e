package entity

import (
	"encoding/json"
	"testing"
)

func floatEq(a, b float64) bool {
	d := a - b
	return d < 0.01 && d > -0.01
}

func TestValueFold(t *testing.T) {
	srcA := SourceRef{File: "a.xlsx", Sheet: "Räume", Row: 2}
	srcB := SourceRef{File: "b.xlsx", Sheet: "Flächen", Row: 5}
	srcC := SourceRef{File: "c.ifc", GlobalID: "2O2Fr$t4X7Zf8NOew3FNr2"}

	t.Run("first observation resolves", func(t *testing.T) {
		var v Value[float64]
		if contested := v.Fold(24.0, srcA, floatEq); contested {
			t.Error("Fold() first observation reported contested")
		}
		got, ok := v.Get()
		if !ok || got != 24.0 {
			t.Errorf("Get() = %v, %v, want 24, true", got, ok)
		}
		if len(v.Sources()) != 1 {
			t.Errorf("Sources() len = %d, want 1", len(v.Sources()))
		}
	})

	t.Run("agreeing observation adds source", func(t *testing.T) {
		var v Value[float64]
		v.Fold(24.0, srcA, floatEq)
		if contested := v.Fold(24.005, srcB, floatEq); contested {
			t.Error("Fold() within tolerance reported contested")
		}
		if len(v.Sources()) != 2 {
			t.Errorf("Sources() len = %d, want 2", len(v.Sources()))
		}
	})

	t.Run("disagreement turns contested", func(t *testing.T) {
		var v Value[float64]
		v.Fold(24.0, srcA, floatEq)
		if contested := v.Fold(26.0, srcB, floatEq); !contested {
			t.Error("Fold() with conflicting value not reported contested")
		}
		if !v.IsContested() {
			t.Error("IsContested() = false after conflict")
		}
		variants := v.Variants()
		if len(variants) != 2 {
			t.Fatalf("Variants() len = %d, want 2", len(variants))
		}
		if variants[0].Value != 24.0 || variants[1].Value != 26.0 {
			t.Errorf("Variants() = %v, %v, want 24, 26", variants[0].Value, variants[1].Value)
		}
	})

	t.Run("distinct values appear exactly once", func(t *testing.T) {
		var v Value[float64]
		v.Fold(24.0, srcA, floatEq)
		v.Fold(26.0, srcB, floatEq)
		v.Fold(24.0, srcC, floatEq) // third source agrees with the first value
		variants := v.Variants()
		if len(variants) != 2 {
			t.Fatalf("Variants() len = %d, want 2", len(variants))
		}
		if len(variants[0].Sources) != 2 {
			t.Errorf("first variant sources = %d, want 2", len(variants[0].Sources))
		}
	})

	t.Run("duplicate source location not double counted", func(t *testing.T) {
		var v Value[float64]
		v.Fold(24.0, srcA, floatEq)
		v.Fold(24.0, srcA, floatEq)
		if len(v.Sources()) != 1 {
			t.Errorf("Sources() len = %d, want 1", len(v.Sources()))
		}
	})
}

func TestValueOr(t *testing.T) {
	var unset Value[string]
	if got := unset.Or("default"); got != "default" {
		t.Errorf("Or() on unset = %q, want %q", got, "default")
	}

	resolved := Resolved("Büro")
	if got := resolved.Or("default"); got != "Büro" {
		t.Errorf("Or() on resolved = %q, want %q", got, "Büro")
	}

	var contested Value[string]
	eq := func(a, b string) bool { return a == b }
	contested.Fold("first", SourceRef{File: "a"}, eq)
	contested.Fold("second", SourceRef{File: "b"}, eq)
	if got := contested.Or("default"); got != "first" {
		t.Errorf("Or() on contested = %q, want first variant", got)
	}
}

func TestValueJSON(t *testing.T) {
	t.Run("unset marshals as null", func(t *testing.T) {
		var v Value[float64]
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if string(data) != "null" {
			t.Errorf("Marshal() = %s, want null", data)
		}
	})

	t.Run("resolved marshals as plain value", func(t *testing.T) {
		data, err := json.Marshal(Resolved(24.5))
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if string(data) != "24.5" {
			t.Errorf("Marshal() = %s, want 24.5", data)
		}
	})

	t.Run("contested marshals as variant list", func(t *testing.T) {
		var v Value[float64]
		v.Fold(24, SourceRef{File: "a.xlsx", Sheet: "R", Row: 2}, floatEq)
		v.Fold(26, SourceRef{File: "b.xlsx", Sheet: "F", Row: 5}, floatEq)
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}

		var variants []struct {
			Wert    float64     `json:"wert"`
			Quellen []SourceRef `json:"quellen"`
		}
		if err := json.Unmarshal(data, &variants); err != nil {
			t.Fatalf("contested output is not a variant list: %v", err)
		}
		if len(variants) != 2 {
			t.Fatalf("variant count = %d, want 2", len(variants))
		}
		if variants[0].Wert != 24 || variants[1].Wert != 26 {
			t.Errorf("variants = %v, want 24 and 26", variants)
		}
		if len(variants[0].Quellen) == 0 || variants[0].Quellen[0].File != "a.xlsx" {
			t.Error("first variant lost its source")
		}
	})

	t.Run("roundtrip", func(t *testing.T) {
		var v Value[string]
		eq := func(a, b string) bool { return a == b }
		v.Fold("Nord", SourceRef{File: "a"}, eq)
		v.Fold("Süd", SourceRef{File: "b"}, eq)

		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		var back Value[string]
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}
		if !back.IsContested() || len(back.Variants()) != 2 {
			t.Errorf("roundtrip lost contested state: %+v", back)
		}

		var resolved Value[string]
		if err := json.Unmarshal([]byte(`"Büro"`), &resolved); err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}
		if got, ok := resolved.Get(); !ok || got != "Büro" {
			t.Errorf("Get() = %q, %v, want Büro, true", got, ok)
		}

		var unset Value[string]
		if err := json.Unmarshal([]byte(`null`), &unset); err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}
		if unset.IsSet() {
			t.Error("null did not restore unset state")
		}
	})
}
