package cli

import (
	"errors"

	"github.com/meshula/primstack/internal/compiler"
	"github.com/meshula/primstack/internal/flatten"
	"github.com/meshula/primstack/internal/graph"
	"github.com/meshula/primstack/internal/resolve"
	"github.com/meshula/primstack/internal/schema"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeCompile     = "E002" // Document load or compile failed
	ErrCodeCycle       = "E003" // Composition cycle
	ErrCodeSchema      = "E004" // Schema conflict or unknown type/property
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeEntity      = "E006" // Unknown or duplicate entity
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeBadTable    = "E008" // Table magic/version mismatch or corrupt table
	ErrCodeTestFailed  = "E009" // One or more scenarios failed
)

// Scene is a scene directory built into a live registry and store.
type Scene struct {
	Dir      string
	Files    int
	Compiled *compiler.Compiled
	Registry *schema.Registry
	Store    *graph.Store
}

// LoadScene loads, compiles, and applies a scene directory. Cycles are
// reported by the store during Apply; validate uses the lower-level pieces
// directly so it can report every cycle, not just the first.
func LoadScene(dir string) (*Scene, error) {
	doc, err := compiler.Load(dir)
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(doc)
	if err != nil {
		return nil, err
	}

	reg := schema.NewRegistry()
	store := graph.NewStore(reg)
	if err := compiler.Apply(compiled, reg, store); err != nil {
		return nil, err
	}

	return &Scene{
		Dir:      dir,
		Files:    doc.Files,
		Compiled: compiled,
		Registry: reg,
		Store:    store,
	}, nil
}

// Engine returns a resolution engine over the scene's store.
func (s *Scene) Engine() *resolve.Engine {
	return resolve.New(s.Store, s.Registry)
}

// errorCode maps an error to its stable CLI code.
func errorCode(err error) string {
	var compileErr *compiler.CompileError
	var dupEntity *graph.DuplicateEntityError
	switch {
	case errors.As(err, &compileErr):
		return ErrCodeCompile
	case graph.IsCycle(err):
		return ErrCodeCycle
	case schema.IsConflict(err), schema.IsUnknownType(err),
		schema.IsUnknownProperty(err), schema.IsDuplicateType(err):
		return ErrCodeSchema
	case graph.IsUnknownEntity(err), errors.As(err, &dupEntity),
		graph.IsUnknownArc(err), graph.IsUnknownVariant(err):
		return ErrCodeEntity
	case flatten.IsFormatVersion(err):
		return ErrCodeBadTable
	default:
		return ErrCodeGeneric
	}
}
