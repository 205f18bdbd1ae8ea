package compiler

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError is one document problem with its source position. Field is
// the dotted document location ("types.Creature", "entities./World/Hero"),
// or "cue" when the problem came out of CUE evaluation itself.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorList aggregates every problem found in one pass over a document, so
// authors fix a batch at a time instead of replaying the first failure.
type ErrorList []*CompileError

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap exposes the individual errors to errors.As and errors.Is.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// add appends a problem and returns the list for chained collection.
func (l *ErrorList) add(field, message string, pos token.Pos) {
	*l = append(*l, &CompileError{Field: field, Message: message, Pos: pos})
}

// errorOrNil collapses an empty list to an untyped nil error.
func (l ErrorList) errorOrNil() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// formatCUEError extracts position info from a CUE evaluation error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// cueErrorList expands a CUE error into one CompileError per underlying
// problem, keeping each source position.
func cueErrorList(err error) ErrorList {
	var list ErrorList
	for _, e := range cueerrors.Errors(err) {
		ce := &CompileError{Field: "cue", Message: e.Error()}
		if positions := cueerrors.Positions(e); len(positions) > 0 {
			ce.Pos = positions[0]
		}
		list = append(list, ce)
	}
	if len(list) == 0 && err != nil {
		list = append(list, &CompileError{Field: "cue", Message: err.Error()})
	}
	return list
}

// asCompileError normalizes an error from a decode helper into a
// CompileError anchored at pos when it does not already carry a position.
func asCompileError(err error, field string, pos token.Pos) *CompileError {
	if ce, ok := err.(*CompileError); ok {
		if ce.Field == "cue" || ce.Field == "" {
			ce.Field = field
		}
		if !ce.Pos.IsValid() {
			ce.Pos = pos
		}
		return ce
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: pos}
}
