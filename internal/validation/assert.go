// Package validation enforces constructor contracts. A violated contract is a
// wiring mistake in the host program, so these helpers panic instead of
// returning errors.
package validation

import "fmt"

// AssertNotNil panics if ptr is nil.
//
//	validation.AssertNotNil(cfg, "observability config")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertProvided panics if the interface value v is nil. A typed nil
// pointer stored in an interface is not detected.
func AssertProvided(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s must be provided", name))
	}
}

// AssertNotEmpty panics if s is empty.
func AssertNotEmpty(s, name string) {
	if s == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}
