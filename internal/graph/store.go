package graph

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/meshula/primstack/internal/schema"
	"github.com/meshula/primstack/internal/value"
)

// Store is the composition graph store. One writer role mutates it;
// concurrent readers snapshot it through View.
type Store struct {
	mu       sync.RWMutex
	registry *schema.Registry
	entities map[value.Path]*entity

	// reverse maps target -> source -> edge count, so a mutation can bump
	// and invalidate every entity whose arcs transitively reach it.
	reverse map[value.Path]map[value.Path]int

	clock   generationClock
	hooks   []func(ids []value.Path)
	journal Sink
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store validating against the given registry.
func NewStore(registry *schema.Registry, opts ...Option) *Store {
	s := &Store{
		registry: registry,
		entities: make(map[value.Path]*entity),
		reverse:  make(map[value.Path]map[value.Path]int),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnInvalidate registers a hook called synchronously inside every mutation,
// after state is applied and generations are bumped, with the sorted set of
// affected entity paths. The resolution cache registers here.
func (s *Store) OnInvalidate(fn func(ids []value.Path)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// AttachJournal sets the journal sink. Every subsequent successful mutation
// appends exactly one edit before it returns.
func (s *Store) AttachJournal(j Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// Define creates an entity of a registered type. The new entity starts
// active, with one empty plain local block.
func (s *Store) Define(id value.Path, typeName string) error {
	id, err := checkPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[id]; exists {
		return &DuplicateEntityError{Path: id}
	}
	if !s.registry.HasType(typeName) {
		return &schema.UnknownTypeError{Name: typeName}
	}
	if err := s.append(Edit{Op: EditDefine, Entity: id, Type: typeName}); err != nil {
		return err
	}

	s.entities[id] = &entity{
		path:     id,
		typeName: typeName,
		active:   true,
		blocks:   []localBlock{{opinions: make(map[string]Opinion)}},
		sets:     make(map[string]*variantSet),
	}
	s.finish(id, "define")
	return nil
}

// Remove deletes an entity. Arcs held by other entities that target the
// removed path are left in place and skipped during resolution until the
// path is defined again.
func (s *Store) Remove(id value.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	if err := s.append(Edit{Op: EditRemove, Entity: id}); err != nil {
		return err
	}

	// Dependents are bumped while the reverse index still knows about them.
	affected := s.closure(id)
	for _, arc := range ent.arcs {
		s.dropReverse(arc.Target, id)
	}
	delete(s.entities, id)
	s.bump(affected)
	s.notify(affected, "remove")
	return nil
}

// SetActive flips an entity's activation. Arcs targeting an inactive entity
// are skipped during resolution. Setting the current state is a no-op that
// bumps nothing.
func (s *Store) SetActive(id value.Path, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[id]
	if !ok {
		return &UnknownEntityError{Path: id}
	}
	if ent.active == active {
		return nil
	}
	if err := s.append(Edit{Op: EditSetActive, Entity: id, Active: active}); err != nil {
		return err
	}

	ent.active = active
	s.finish(id, "set_active")
	return nil
}

// finish runs the shared mutation tail for a single-root change: compute
// the affected closure, bump generations, fire hooks, log.
func (s *Store) finish(id value.Path, op string) {
	affected := s.closure(id)
	s.bump(affected)
	s.notify(affected, op)
}

func (s *Store) notify(affected []value.Path, op string) {
	for _, hook := range s.hooks {
		hook(affected)
	}
	s.logger.Debug("graph mutation", "op", op, "affected", len(affected))
}

func (s *Store) append(e Edit) error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Append(e)
}

// View runs fn under a consistent read snapshot. Data returned by View
// accessors must not be retained past fn.
func (s *Store) View(fn func(v *View) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&View{s: s})
}

// Generation returns an entity's current generation counter. The second
// result is false for undefined paths.
func (s *Store) Generation(id value.Path) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entities[id]
	if !ok {
		return 0, false
	}
	return ent.gen, true
}

// Paths returns every defined entity path in sorted order.
func (s *Store) Paths() []value.Path {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]value.Path, 0, len(s.entities))
	for p := range s.entities {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry returns the schema registry the store validates against.
func (s *Store) Registry() *schema.Registry { return s.registry }

func checkPath(id value.Path) (value.Path, error) {
	p, err := value.NewPath(string(id))
	if err != nil {
		return "", &PathError{Raw: string(id), Err: err}
	}
	return p, nil
}

// View is a read snapshot handle, valid only inside Store.View.
type View struct {
	s *Store
}

// TypeName returns the entity's declared type.
func (v *View) TypeName(id value.Path) (string, bool) {
	ent, ok := v.s.entities[id]
	if !ok {
		return "", false
	}
	return ent.typeName, true
}

// Defined reports whether the path names a defined entity.
func (v *View) Defined(id value.Path) bool {
	_, ok := v.s.entities[id]
	return ok
}

// Active reports activation; undefined paths are inactive.
func (v *View) Active(id value.Path) bool {
	ent, ok := v.s.entities[id]
	return ok && ent.active
}

// Generation returns the entity's generation within this snapshot.
func (v *View) Generation(id value.Path) (uint64, bool) {
	ent, ok := v.s.entities[id]
	if !ok {
		return 0, false
	}
	return ent.gen, true
}

// LocalOpinion walks the entity's local blocks in declaration order, with
// variant-set blocks contributing their currently selected block, and
// returns the first opinion for the property. The int is the winning block
// position.
func (v *View) LocalOpinion(id value.Path, property string) (Opinion, int, bool) {
	ent, ok := v.s.entities[id]
	if !ok {
		return Opinion{}, 0, false
	}
	for i, blk := range ent.blocks {
		opinions := blk.opinions
		if blk.isVariant() {
			set := ent.sets[blk.variantSet]
			if set == nil || set.selection == "" {
				continue
			}
			opinions = set.variants[set.selection]
		}
		if op, found := opinions[property]; found {
			return op, i, true
		}
	}
	return Opinion{}, 0, false
}

// Arcs returns the entity's stored arcs in declaration order. The slice is
// owned by the store; do not retain or mutate it.
func (v *View) Arcs(id value.Path) []Arc {
	ent, ok := v.s.entities[id]
	if !ok {
		return nil
	}
	return ent.arcs
}

// VariantSelection returns the current selection for a variant set.
func (v *View) VariantSelection(id value.Path, set string) (string, bool) {
	ent, ok := v.s.entities[id]
	if !ok {
		return "", false
	}
	vs, ok := ent.sets[set]
	if !ok {
		return "", false
	}
	return vs.selection, true
}

// VariantSets returns the entity's variant set names in sorted order.
func (v *View) VariantSets(id value.Path) []string {
	ent, ok := v.s.entities[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ent.sets))
	for name := range ent.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Paths returns every defined path in sorted order.
func (v *View) Paths() []value.Path {
	out := make([]value.Path, 0, len(v.s.entities))
	for p := range v.s.entities {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
