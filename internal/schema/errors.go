package schema

import (
	"errors"
	"fmt"
)

// DuplicateTypeError reports a second registration under an already-taken
// name with different content. Identical re-registration is idempotent and
// does not produce this error.
type DuplicateTypeError struct {
	Name string
}

func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("schema name %q is already registered with different content", e.Name)
}

// Code returns the stable error code for CLI output.
func (e *DuplicateTypeError) Code() string { return "DUPLICATE_TYPE" }

// UnknownTypeError reports a lookup or reference to an unregistered type,
// parent, or component.
type UnknownTypeError struct {
	Name string
	// Referrer names the type whose registration referenced the missing
	// name, when the lookup came from a parent or component reference.
	Referrer string
}

func (e *UnknownTypeError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("type %q references unregistered %q", e.Referrer, e.Name)
	}
	return fmt.Sprintf("unknown type %q", e.Name)
}

func (e *UnknownTypeError) Code() string { return "UNKNOWN_TYPE" }

// SchemaConflictError reports two merged schema sources declaring the same
// property with incompatible kinds or defaults. Resolution never silently
// picks one side.
type SchemaConflictError struct {
	Type     string
	Property string
	First    string
	Second   string
	Reason   string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("type %q: property %q conflicts between %s and %s: %s",
		e.Type, e.Property, e.First, e.Second, e.Reason)
}

func (e *SchemaConflictError) Code() string { return "SCHEMA_CONFLICT" }

// UnknownPropertyError reports a query for a property the entity's resolved
// type does not declare.
type UnknownPropertyError struct {
	Type     string
	Property string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("type %q does not declare property %q", e.Type, e.Property)
}

func (e *UnknownPropertyError) Code() string { return "UNKNOWN_PROPERTY" }

// IsDuplicateType reports whether err is a DuplicateTypeError.
// Uses errors.As to handle wrapped errors.
func IsDuplicateType(err error) bool {
	var e *DuplicateTypeError
	return errors.As(err, &e)
}

// IsUnknownType reports whether err is an UnknownTypeError.
func IsUnknownType(err error) bool {
	var e *UnknownTypeError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a SchemaConflictError.
func IsConflict(err error) bool {
	var e *SchemaConflictError
	return errors.As(err, &e)
}

// IsUnknownProperty reports whether err is an UnknownPropertyError.
func IsUnknownProperty(err error) bool {
	var e *UnknownPropertyError
	return errors.As(err, &e)
}
