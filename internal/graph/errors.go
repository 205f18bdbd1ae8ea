package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meshula/primstack/internal/value"
)

// CompositionCycleError reports an arc addition that would close a cycle.
// The store state is exactly as it was before the rejected call.
type CompositionCycleError struct {
	From  value.Path
	To    value.Path
	Cycle []value.Path
}

func (e *CompositionCycleError) Error() string {
	if len(e.Cycle) > 0 {
		parts := make([]string, len(e.Cycle))
		for i, p := range e.Cycle {
			parts[i] = string(p)
		}
		return fmt.Sprintf("arc %s -> %s would close composition cycle: %s",
			e.From, e.To, strings.Join(parts, " -> "))
	}
	return fmt.Sprintf("arc %s -> %s would close a composition cycle", e.From, e.To)
}

// Code returns the stable error code for CLI output.
func (e *CompositionCycleError) Code() string { return "COMPOSITION_CYCLE" }

// UnknownEntityError reports an operation against an undefined entity path.
type UnknownEntityError struct {
	Path value.Path
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %s", e.Path)
}

func (e *UnknownEntityError) Code() string { return "UNKNOWN_ENTITY" }

// DuplicateEntityError reports a Define against an already-defined path.
type DuplicateEntityError struct {
	Path value.Path
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("entity %s is already defined", e.Path)
}

func (e *DuplicateEntityError) Code() string { return "DUPLICATE_ENTITY" }

// UnknownVariantError reports a selection against an undeclared variant set
// or variant name.
type UnknownVariantError struct {
	Path    value.Path
	Set     string
	Variant string
}

func (e *UnknownVariantError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("entity %s: variant set %q has no variant %q", e.Path, e.Set, e.Variant)
	}
	return fmt.Sprintf("entity %s: no variant set %q", e.Path, e.Set)
}

func (e *UnknownVariantError) Code() string { return "UNKNOWN_VARIANT" }

// UnknownArcError reports a removal or payload flip against an arc that is
// not present.
type UnknownArcError struct {
	Path   value.Path
	Kind   ArcKind
	Target value.Path
}

func (e *UnknownArcError) Error() string {
	return fmt.Sprintf("entity %s has no %s arc to %s", e.Path, e.Kind, e.Target)
}

func (e *UnknownArcError) Code() string { return "UNKNOWN_ARC" }

// PathError wraps a malformed entity path presented at an API boundary.
type PathError struct {
	Raw string
	Err error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid entity path %q: %v", e.Raw, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

func (e *PathError) Code() string { return "INVALID_PATH" }

// IsCycle reports whether err is a CompositionCycleError.
// Uses errors.As to handle wrapped errors.
func IsCycle(err error) bool {
	var e *CompositionCycleError
	return errors.As(err, &e)
}

// IsUnknownEntity reports whether err is an UnknownEntityError.
func IsUnknownEntity(err error) bool {
	var e *UnknownEntityError
	return errors.As(err, &e)
}

// IsUnknownVariant reports whether err is an UnknownVariantError.
func IsUnknownVariant(err error) bool {
	var e *UnknownVariantError
	return errors.As(err, &e)
}

// IsUnknownArc reports whether err is an UnknownArcError.
func IsUnknownArc(err error) bool {
	var e *UnknownArcError
	return errors.As(err, &e)
}
