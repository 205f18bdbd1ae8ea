package lod

import (
	"errors"
	"fmt"
)

// InvalidConfigError reports a classification config that cannot compile.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("lod config %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigError) Code() string { return "INVALID_LOD_CONFIG" }

// IsInvalidConfig reports whether err is an InvalidConfigError.
func IsInvalidConfig(err error) bool {
	var target *InvalidConfigError
	return errors.As(err, &target)
}
