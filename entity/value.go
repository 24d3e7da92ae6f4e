package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type valueState uint8

const (
	stateUnset valueState = iota
	stateResolved
	stateContested
)

// Variant is one observed value of a contested attribute together with
// every source that reported it. Each distinct value appears exactly once
// in a contested list.
type Variant[T any] struct {
	Value   T           `json:"wert"`
	Sources []SourceRef `json:"quellen,omitempty"`
}

// Value holds a single entity attribute. It is unset until an extractor
// observes it, resolved while all sources agree, and contested once sources
// disagree. A contested value keeps every distinct observation with its
// sources instead of picking a winner.
//
// JSON encoding: unset marshals as null, resolved as the plain value,
// contested as an array of variants.
type Value[T any] struct {
	state    valueState
	value    T
	sources  []SourceRef
	variants []Variant[T]
}

// Resolved creates a resolved value without source attribution.
// Extractors use it when building entities; attribution happens at merge.
func Resolved[T any](v T) Value[T] {
	return Value[T]{state: stateResolved, value: v}
}

// Set resolves the value, replacing any previous state.
func (v *Value[T]) Set(val T) {
	v.state = stateResolved
	v.value = val
	v.sources = nil
	v.variants = nil
}

// IsSet reports whether the value has been observed at all.
func (v Value[T]) IsSet() bool { return v.state != stateUnset }

// IsContested reports whether sources disagree on the value.
func (v Value[T]) IsContested() bool { return v.state == stateContested }

// Get returns the resolved value. The second return is false when the
// value is unset or contested.
func (v Value[T]) Get() (T, bool) {
	if v.state == stateResolved {
		return v.value, true
	}
	var zero T
	return zero, false
}

// Or returns the resolved value, the first contested variant, or def.
func (v Value[T]) Or(def T) T {
	switch v.state {
	case stateResolved:
		return v.value
	case stateContested:
		if len(v.variants) > 0 {
			return v.variants[0].Value
		}
	}
	return def
}

// Variants returns the contested observations, or nil when not contested.
func (v Value[T]) Variants() []Variant[T] {
	if v.state != stateContested {
		return nil
	}
	return v.variants
}

// Sources returns the sources attributed to the resolved value.
func (v Value[T]) Sources() []SourceRef {
	if v.state != stateResolved {
		return nil
	}
	return v.sources
}

// Fold merges an observation into the value. eq reports whether two
// observations agree. An agreeing observation only gains a source; a
// disagreeing one turns the value contested, keeping every distinct
// observation exactly once. Returns true if the value is contested
// after the fold.
func (v *Value[T]) Fold(obs T, src SourceRef, eq func(a, b T) bool) bool {
	switch v.state {
	case stateUnset:
		v.state = stateResolved
		v.value = obs
		v.sources = appendSource(nil, src)
		return false

	case stateResolved:
		if eq(v.value, obs) {
			v.sources = appendSource(v.sources, src)
			return false
		}
		v.variants = []Variant[T]{
			{Value: v.value, Sources: v.sources},
			{Value: obs, Sources: appendSource(nil, src)},
		}
		v.state = stateContested
		var zero T
		v.value = zero
		v.sources = nil
		return true

	default: // contested
		for i := range v.variants {
			if eq(v.variants[i].Value, obs) {
				v.variants[i].Sources = appendSource(v.variants[i].Sources, src)
				return true
			}
		}
		v.variants = append(v.variants, Variant[T]{Value: obs, Sources: appendSource(nil, src)})
		return true
	}
}

// appendSource adds a ref unless the same location is already present.
func appendSource(refs []SourceRef, src SourceRef) []SourceRef {
	for _, r := range refs {
		if r.SameLocation(src) {
			return refs
		}
	}
	return append(refs, src)
}

// MarshalJSON implements json.Marshaler.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	switch v.state {
	case stateResolved:
		return json.Marshal(v.value)
	case stateContested:
		return json.Marshal(v.variants)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Null restores the unset state,
// an array restores a contested value, anything else a resolved one.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Value[T]{}
		return nil
	}
	if trimmed[0] == '[' {
		var variants []Variant[T]
		if err := json.Unmarshal(trimmed, &variants); err != nil {
			return fmt.Errorf("decoding contested value: %w", err)
		}
		*v = Value[T]{state: stateContested, variants: variants}
		return nil
	}
	var val T
	if err := json.Unmarshal(trimmed, &val); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	*v = Value[T]{state: stateResolved, value: val}
	return nil
}
