package resolve

import (
	"errors"
	"fmt"

	"github.com/meshula/primstack/internal/value"
)

// DepthExceededError reports a composition walk deeper than the configured
// bound. The graph rejects cycles at mutation time, so this only fires on
// extremely long legal arc chains.
type DepthExceededError struct {
	Entity   value.Path
	Property string
	Max      int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("resolving %q on %s exceeded composition depth %d",
		e.Property, e.Entity, e.Max)
}

// Code returns the stable error code for CLI output.
func (e *DepthExceededError) Code() string { return "DEPTH_EXCEEDED" }

// IsDepthExceeded reports whether err is a DepthExceededError.
// Uses errors.As to handle wrapped errors.
func IsDepthExceeded(err error) bool {
	var e *DepthExceededError
	return errors.As(err, &e)
}
