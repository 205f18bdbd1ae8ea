package value

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Path is the identity of an entity in the scene graph: an absolute,
// slash-separated, NFC-normalized path such as "/World/Enemies/Carrot01".
type Path string

// NewPath normalizes and validates a raw path string.
func NewPath(s string) (Path, error) {
	p := Path(norm.NFC.String(s))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// MustPath is like NewPath but panics on invalid input.
// Use only in tests or with literals known to be valid.
func MustPath(s string) Path {
	p, err := NewPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks path well-formedness without normalizing.
func (p Path) Validate() error {
	s := string(p)
	if s == "" {
		return fmt.Errorf("empty entity path")
	}
	if s[0] != '/' {
		return fmt.Errorf("entity path %q is not absolute", s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("entity path %q has a trailing slash", s)
	}
	if strings.Contains(s, "//") {
		return fmt.Errorf("entity path %q contains an empty segment", s)
	}
	return nil
}

// Parent returns the enclosing path, or "/" for top-level entities.
func (p Path) Parent() Path {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx <= 0 {
		return "/"
	}
	return Path(s[:idx])
}

// Name returns the final path segment.
func (p Path) Name() string {
	s := string(p)
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// IsRoot reports whether p is the scene root.
func (p Path) IsRoot() bool { return p == "/" }
