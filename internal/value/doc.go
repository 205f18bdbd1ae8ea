// Package value provides the property value model shared by every other
// internal package.
//
// This package contains type definitions and canonical encoding only. All
// other internal packages import value; value imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Values are immutable once constructed; holders never mutate in place
//   - Float comparison is by bit pattern, so resolution stays deterministic
//   - Paths and strings are NFC normalized at construction boundaries
//   - Canonical encoding rejects non-finite floats
package value
