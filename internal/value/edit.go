package value

// RelationEdit is the authored form of a relationship opinion: ordered
// prepend, append, and delete operations over the target list. Edits are
// evaluated entirely within the single arc that authored them; resolution
// never merges edits across arcs.
type RelationEdit struct {
	Prepend []Path
	Append  []Path
	Delete  []Path
}

// Apply evaluates the edit against an empty list and returns the effective
// Relation: prepends in authored order, then appends in authored order, with
// deleted targets filtered and later duplicates dropped.
func (e RelationEdit) Apply() Relation {
	deleted := make(map[Path]struct{}, len(e.Delete))
	for _, p := range e.Delete {
		deleted[p] = struct{}{}
	}

	seen := make(map[Path]struct{}, len(e.Prepend)+len(e.Append))
	out := make(Relation, 0, len(e.Prepend)+len(e.Append))
	add := func(p Path) {
		if _, del := deleted[p]; del {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range e.Prepend {
		add(p)
	}
	for _, p := range e.Append {
		add(p)
	}
	return out
}

// IsZero reports whether the edit carries no operations.
func (e RelationEdit) IsZero() bool {
	return len(e.Prepend) == 0 && len(e.Append) == 0 && len(e.Delete) == 0
}

// Clone returns a deep copy. Stored opinions are cloned on write so
// published resolution results never alias caller slices.
func (e RelationEdit) Clone() RelationEdit {
	out := RelationEdit{}
	if len(e.Prepend) > 0 {
		out.Prepend = append([]Path(nil), e.Prepend...)
	}
	if len(e.Append) > 0 {
		out.Append = append([]Path(nil), e.Append...)
	}
	if len(e.Delete) > 0 {
		out.Delete = append([]Path(nil), e.Delete...)
	}
	return out
}
