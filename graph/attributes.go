package graph

import (
	"github.com/gomlx/exceptions"
)

// Attributes holds per-node operator attributes. Values are pre-validated by
// the model layer; the typed getters throw on a type mismatch, which
// indicates a malformed model rather than a runtime condition.
type Attributes map[string]any

// Int returns the named int attribute, or def when absent.
func (a Attributes) Int(name string, def int) int {
	v, ok := a[name]
	if !ok {
		return def
	}
	switch i := v.(type) {
	case int:
		return i
	case int64:
		return int(i)
	}
	exceptions.Panicf("graph: attribute %q is %T, expected int", name, v)
	return 0
}

// Ints returns the named []int attribute, or nil when absent.
func (a Attributes) Ints(name string) []int {
	v, ok := a[name]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []int:
		return s
	case []int64:
		out := make([]int, len(s))
		for i, x := range s {
			out[i] = int(x)
		}
		return out
	}
	exceptions.Panicf("graph: attribute %q is %T, expected []int", name, v)
	return nil
}

// Float returns the named float32 attribute, or def when absent.
func (a Attributes) Float(name string, def float32) float32 {
	v, ok := a[name]
	if !ok {
		return def
	}
	switch f := v.(type) {
	case float32:
		return f
	case float64:
		return float32(f)
	}
	exceptions.Panicf("graph: attribute %q is %T, expected float32", name, v)
	return 0
}

// Floats returns the named []float32 attribute, or nil when absent.
func (a Attributes) Floats(name string) []float32 {
	v, ok := a[name]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []float32:
		return s
	case []float64:
		out := make([]float32, len(s))
		for i, x := range s {
			out[i] = float32(x)
		}
		return out
	}
	exceptions.Panicf("graph: attribute %q is %T, expected []float32", name, v)
	return nil
}

// Str returns the named string attribute, or def when absent.
func (a Attributes) Str(name, def string) string {
	v, ok := a[name]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		exceptions.Panicf("graph: attribute %q is %T, expected string", name, v)
	}
	return s
}

// Has reports whether the attribute is present.
func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}
