// Package compiler loads CUE scene documents and lowers them to schema
// registrations, entity declarations, and LOD policy.
//
// A document is one CUE package with two top-level sections: schema
// (reusable components and entity types) and scene (entities plus an
// optional lod block). Load evaluates the package, Compile lowers it to a
// Compiled with deterministic ordering, and Apply replays the result
// through the store's public mutation surface so journaling, validation,
// and invalidation behave exactly as for runtime edits. AnalyzeCycles
// reports every arc cycle in a document statically, before any mutation is
// attempted.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Document is a loaded and evaluated scene package, not yet lowered.
type Document struct {
	Dir   string
	Files int

	root cue.Value
}

// Load reads the CUE package rooted at dir and evaluates it. Uses the CUE
// SDK's Go API directly (not a CLI subprocess). Syntax and evaluation
// problems across all files are reported together, one error per position.
func Load(dir string) (*Document, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &CompileError{Field: "document", Message: fmt.Sprintf("scene directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &CompileError{Field: "document", Message: fmt.Sprintf("accessing scene directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &CompileError{Field: "document", Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &CompileError{Field: "document", Message: fmt.Sprintf("scanning scene directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &CompileError{Field: "document", Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &CompileError{Field: "document", Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, cueErrorList(inst.Err)
	}

	root := ctx.BuildInstance(inst)
	if err := root.Err(); err != nil {
		return nil, cueErrorList(err)
	}

	return &Document{Dir: dir, Files: len(files), root: root}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
