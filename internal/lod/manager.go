package lod

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/meshula/primstack/internal/value"
)

type entityState struct {
	tier      Tier
	candidate Tier
	since     time.Time
}

// Manager assigns tiers and answers property gating queries. Safe for
// concurrent use; classification for distinct entities is independent.
type Manager struct {
	cfg    compiled
	nowFn  func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	state map[value.Path]*entityState
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow injects the clock used for dwell timing. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.nowFn = now }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager validates the config and returns a Manager with every entity
// initially at TierNear.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	compiled, err := compileConfig(cfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:    compiled,
		nowFn:  time.Now,
		logger: slog.Default(),
		state:  make(map[value.Path]*entityState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Classify runs one classification step for one entity and returns the
// assigned tier. The assignment moves at most one tier step, and only
// after the candidate tier has cleared hysteresis and held for the dwell
// period.
func (m *Manager) Classify(id value.Path, s Signals) Tier {
	now := m.nowFn()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state[id]
	if !ok {
		st = &entityState{tier: TierNear, candidate: TierNear, since: now}
		m.state[id] = st
	}

	scale := pressureScale(s.BudgetPressure)
	eff := m.cfg.effectiveDistance(s)
	desired := m.cfg.rawTier(eff, scale)

	// One step toward the raw target, and only past the margin on the
	// boundary being crossed.
	candidate := st.tier
	switch {
	case desired > st.tier:
		if eff >= m.cfg.boundary(st.tier, scale)+m.cfg.hysteresis {
			candidate = st.tier + 1
		}
	case desired < st.tier:
		if eff < m.cfg.boundary(st.tier-1, scale)-m.cfg.hysteresis {
			candidate = st.tier - 1
		}
	}

	if candidate != st.candidate {
		st.candidate = candidate
		st.since = now
	}
	if st.candidate != st.tier && now.Sub(st.since) >= m.cfg.dwell {
		m.logger.Debug("tier change",
			"entity", string(id),
			"from", st.tier.String(),
			"to", st.candidate.String())
		st.tier = st.candidate
		st.since = now
	}
	return st.tier
}

// Pass classifies every entity in the signal map, in path order, and
// returns the resulting assignments.
func (m *Manager) Pass(signals map[value.Path]Signals) map[value.Path]Tier {
	ids := make([]value.Path, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make(map[value.Path]Tier, len(ids))
	for _, id := range ids {
		out[id] = m.Classify(id, signals[id])
	}
	return out
}

// Tier returns the current assignment. Entities never classified are
// TierNear.
func (m *Manager) Tier(id value.Path) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.state[id]; ok {
		return st.tier
	}
	return TierNear
}

// Enabled reports whether the property should be resolved for the entity
// at its current tier. A disabled property is skipped entirely, never
// computed and discarded.
func (m *Manager) Enabled(id value.Path, property string) bool {
	return m.EnabledAt(m.Tier(id), property)
}

// EnabledAt reports whether the property is enabled at the given tier.
func (m *Manager) EnabledAt(tier Tier, property string) bool {
	if int(tier) >= tierCount {
		return false
	}
	return m.cfg.filters[tier].Enabled(property)
}

// Forget drops the per-entity classification state, typically after the
// entity is removed from the store.
func (m *Manager) Forget(id value.Path) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, id)
}
